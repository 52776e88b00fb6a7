package tlsconf

import (
	"path/filepath"
	"testing"
)

func TestGet_SameKeySameConfig(t *testing.T) {
	cache := NewCache(nil)

	a := cache.Get(Options{VerifyPeer: true})
	b := cache.Get(Options{VerifyPeer: true})
	if a != b {
		t.Error("Equal options must return the identical config")
	}

	c := cache.Get(Options{VerifyPeer: false})
	if a == c {
		t.Error("Different options must not share a config")
	}
}

func TestGet_InsecureSkipsVerification(t *testing.T) {
	cache := NewCache(nil)

	cfg := cache.Get(Options{VerifyPeer: false})
	if !cfg.InsecureSkipVerify {
		t.Error("VerifyPeer=false must set InsecureSkipVerify")
	}

	cfg = cache.Get(Options{VerifyPeer: true})
	if cfg.InsecureSkipVerify {
		t.Error("VerifyPeer=true must not set InsecureSkipVerify")
	}
}

func TestGet_MissingBundleFallsBack(t *testing.T) {
	cache := NewCache(nil)

	// Construction must not fail for an unreadable bundle.
	cfg := cache.Get(Options{
		VerifyPeer:   true,
		CABundlePath: filepath.Join(t.TempDir(), "does-not-exist.pem"),
	})
	if cfg == nil {
		t.Fatal("Expected a config despite missing CA bundle")
	}
	if cfg.RootCAs != nil {
		t.Error("Missing bundle should fall back to the platform trust store (nil RootCAs)")
	}
}
