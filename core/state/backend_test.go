package state

import (
	"testing"

	"github.com/abichain/abichain/core/rawdb"
	"github.com/abichain/abichain/core/types"
	"github.com/abichain/abichain/crypto"
	"github.com/abichain/abichain/trie"
)

func TestBackend_KVRoundTrip(t *testing.T) {
	backend := NewBackend(rawdb.NewMemoryDB())
	if err := backend.KV().Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := backend.KV().Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("Get = %q, want %q", got, "v")
	}
}

func TestBackend_CloneSharesStorage(t *testing.T) {
	backend := NewBackend(rawdb.NewMemoryDB())
	factory, err := NewTrieFactory(backend, crypto.KeccakFamily)
	if err != nil {
		t.Fatalf("NewTrieFactory: %v", err)
	}
	top, err := factory.NewTop(types.Hash{})
	if err != nil {
		t.Fatalf("NewTop: %v", err)
	}
	if err := top.Put([]byte("addr"), []byte("account")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	root, err := top.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	clone := backend.Clone()
	cloneFactory, err := NewTrieFactory(clone, crypto.KeccakFamily)
	if err != nil {
		t.Fatalf("NewTrieFactory on clone: %v", err)
	}
	reopened, err := cloneFactory.NewTop(root)
	if err != nil {
		t.Fatalf("NewTop on clone: %v", err)
	}
	got, err := reopened.Get([]byte("addr"))
	if err != nil {
		t.Fatalf("Get on clone: %v", err)
	}
	if string(got) != "account" {
		t.Fatalf("Get on clone = %q, want %q", got, "account")
	}
}

func TestNewTrieFactory_RejectsForeignBackend(t *testing.T) {
	if _, err := NewTrieFactory(fakeBackend{}, crypto.KeccakFamily); err == nil {
		t.Fatalf("NewTrieFactory should reject a Backend not built by NewBackend")
	}
}

type fakeBackend struct{}

func (fakeBackend) View() (trie.NodeReader, error) { return nil, nil }
func (fakeBackend) ViewMut() (trie.NodeWriter, error) { return nil, nil }
func (fakeBackend) Contains(types.Hash) bool { return false }
func (fakeBackend) Clone() Backend { return fakeBackend{} }
func (fakeBackend) KV() rawdb.Database { return nil }
