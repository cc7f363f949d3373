package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// NextRevision derives the revision that follows prev. Revisions have the form
// "<generation>-<32 hex>"; an empty prev starts at generation 1.
func NextRevision(prev string) string {
	id := uuid.New()
	return fmt.Sprintf("%d-%x", RevisionGeneration(prev)+1, id[:])
}

// RevisionGeneration extracts the generation counter from a revision token.
// Malformed or empty tokens report generation 0.
func RevisionGeneration(rev string) int {
	head, _, ok := strings.Cut(rev, "-")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(head)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
