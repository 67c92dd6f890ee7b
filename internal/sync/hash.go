package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// hashTask computes H over a task's content fields: a deterministic string
// built from sorted tags and a fixed field order, so the same task always
// hashes the same way regardless of map iteration order.
func hashTask(t *Task) string {
	tags := append([]string(nil), t.Tags...)
	sort.Strings(tags)

	var b strings.Builder
	fmt.Fprintf(&b, "title=%s\n", t.Title)
	fmt.Fprintf(&b, "status=%s\n", t.Status)
	fmt.Fprintf(&b, "priority=%d\n", t.Priority)
	fmt.Fprintf(&b, "type=%s\n", t.Type)
	fmt.Fprintf(&b, "assignee=%s\n", t.Assignee)
	fmt.Fprintf(&b, "tags=%s\n", strings.Join(tags, ","))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// hashExternalItem applies the same canonicalization to the provider's view
// of an item so local and remote hashes are directly comparable.
func hashExternalItem(item ExternalItem) string {
	tags := append([]string(nil), item.Tags...)
	sort.Strings(tags)

	var b strings.Builder
	fmt.Fprintf(&b, "title=%s\n", item.Title)
	fmt.Fprintf(&b, "status=%s\n", item.Status)
	fmt.Fprintf(&b, "priority=%d\n", item.Priority)
	fmt.Fprintf(&b, "type=%s\n", item.Type)
	fmt.Fprintf(&b, "assignee=%s\n", item.Assignee)
	fmt.Fprintf(&b, "tags=%s\n", strings.Join(tags, ","))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
