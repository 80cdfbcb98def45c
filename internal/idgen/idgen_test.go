package idgen

import (
	"regexp"
	"sort"
	"testing"
)

func TestDeviceID_Length(t *testing.T) {
	id, err := DeviceID()
	if err != nil {
		t.Fatalf("DeviceID() error: %v", err)
	}
	wantLen := len(DevicePrefix) + Length
	if len(id) != wantLen {
		t.Errorf("DeviceID() length = %d, want %d (id=%q)", len(id), wantLen, id)
	}
}

func TestDeviceID_Charset(t *testing.T) {
	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(DevicePrefix) + `[a-z0-9]+$`)
	for i := 0; i < 100; i++ {
		id, err := DeviceID()
		if err != nil {
			t.Fatalf("DeviceID() error on iteration %d: %v", i, err)
		}
		if !pattern.MatchString(id) {
			t.Fatalf("DeviceID() = %q, does not match expected charset pattern", id)
		}
	}
}

func TestDeviceID_Uniqueness(t *testing.T) {
	const count = 10_000
	seen := make(map[string]struct{}, count)
	for i := 0; i < count; i++ {
		id, err := DeviceID()
		if err != nil {
			t.Fatalf("DeviceID() error on iteration %d: %v", i, err)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q after %d generations", id, i)
		}
		seen[id] = struct{}{}
	}
}

func TestBlobID_Ordered(t *testing.T) {
	ids := make([]string, 200)
	for i := range ids {
		ids[i] = BlobID()
	}
	if !sort.StringsAreSorted(ids) {
		t.Error("blob ids are not generated in sorted order")
	}
	for _, id := range ids {
		if len(id) != 26 || !ValidBlobID(id) {
			t.Fatalf("BlobID() = %q is not a valid ulid", id)
		}
	}
	if ValidBlobID("not-a-ulid") {
		t.Error("ValidBlobID accepted garbage")
	}
}
