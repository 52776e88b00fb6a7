package types

import (
	"reflect"
	"strings"
	"testing"
)

func TestHeaderList_GetCaseInsensitive(t *testing.T) {
	h := HeaderList{}.Add("Content-Length", "42").Add("X-Foo", "bar")

	v, ok := h.Get("content-length")
	if !ok || v != "42" {
		t.Errorf("Get(content-length) = %q, %v; want 42, true", v, ok)
	}
	if _, ok := h.Get("missing"); ok {
		t.Error("Get(missing) should report absent")
	}
}

func TestHeaderList_MergedJoinsDuplicates(t *testing.T) {
	h := HeaderList{}.
		Add("X-Foo", "a").
		Add("Content-Type", "text/plain").
		Add("X-Foo", "b").
		Add("X-Foo", "c")

	merged := h.Merged()

	v, _ := merged.Get("X-Foo")
	if got := strings.Split(v, ", "); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("Merged X-Foo = %v, want [a b c]", got)
	}
	if len(merged) != 2 {
		t.Errorf("Expected 2 merged entries, got %d", len(merged))
	}
	// First-seen order preserved.
	if merged[0].Name != "X-Foo" || merged[1].Name != "Content-Type" {
		t.Errorf("Merged order wrong: %+v", merged)
	}
}

func TestHeaderList_SetCookiePreserved(t *testing.T) {
	h := HeaderList{}.
		Add("Set-Cookie", "a=1").
		Add("Set-Cookie", "b=2")

	merged := h.Merged()
	if len(merged) != 2 {
		t.Fatalf("Set-Cookie entries must stay separate, got %d entries", len(merged))
	}
	if got := merged.Values("Set-Cookie"); !reflect.DeepEqual(got, []string{"a=1", "b=2"}) {
		t.Errorf("Set-Cookie values = %v", got)
	}
}

func TestResponse_Successful(t *testing.T) {
	cases := map[int]bool{199: false, 200: true, 204: true, 299: true, 300: false, 404: false, 0: false}
	for status, want := range cases {
		r := &Response{StatusCode: status}
		if got := r.Successful(); got != want {
			t.Errorf("Successful(%d) = %v, want %v", status, got, want)
		}
	}
}
