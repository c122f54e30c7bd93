package gitstore

import (
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) string {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	wt, err := repo.Worktree()
	require.NoError(t, err)

	require.NoError(t, writeFile(dir+"/agent-1/manifest.yaml", []byte("version: 1\n")))
	_, err = wt.Add("agent-1/manifest.yaml")
	require.NoError(t, err)

	_, err = wt.Commit("initial commit", &git.CommitOptions{
		Author: &object.Signature{Name: "test", When: time.Now()},
	})
	require.NoError(t, err)

	return dir
}

func TestStore_HeadCommitAndCheckoutSubtree(t *testing.T) {
	dir := initRepo(t)
	store, err := Open(dir)
	require.NoError(t, err)

	head, err := store.HeadCommit()
	require.NoError(t, err)

	files, err := store.CheckoutSubtree(head, "agent-1")
	require.NoError(t, err)
	require.Equal(t, "version: 1\n", string(files["manifest.yaml"]))
}

func TestStore_CommitSubtreeCreatesChildCommit(t *testing.T) {
	dir := initRepo(t)
	store, err := Open(dir)
	require.NoError(t, err)

	head, err := store.HeadCommit()
	require.NoError(t, err)

	newCommit, err := store.CommitSubtree("agent-1", "rollback agent-1", head,
		map[string][]byte{"manifest.yaml": []byte("version: 0\n")},
		object.Signature{Name: "blueflame-compliance-monitor", When: time.Now()})
	require.NoError(t, err)
	require.Len(t, newCommit.ParentHashes, 1)
	require.Equal(t, head.Hash, newCommit.ParentHashes[0])

	files, err := store.CheckoutSubtree(newCommit, "agent-1")
	require.NoError(t, err)
	require.Equal(t, "version: 0\n", string(files["manifest.yaml"]))
}

func TestStore_FindCommit(t *testing.T) {
	dir := initRepo(t)
	store, err := Open(dir)
	require.NoError(t, err)

	head, err := store.HeadCommit()
	require.NoError(t, err)

	found, err := store.FindCommit(head.Hash.String())
	require.NoError(t, err)
	require.Equal(t, head.Hash, found.Hash)
}
