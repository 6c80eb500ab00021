package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRetrieveRanksByRelevance(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)

	doc := "Refunds are processed within five business days.\n\n" +
		"Orders ship from our warehouse within 24 hours.\n\n" +
		"Our support team is available on weekdays."
	require.NoError(t, m.Ingest(ctx, "t1", doc, "faq.txt"))

	got, err := m.Retrieve(ctx, "t1", "how fast are refunds processed", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Contains(t, got[0].Text, "Refunds")
	assert.GreaterOrEqual(t, got[0].Score, got[1].Score)
	assert.Equal(t, "faq.txt", got[0].Source)
}

func TestMemoryRetrieveEmptyCorpus(t *testing.T) {
	m := NewMemory(nil)
	got, err := m.Retrieve(context.Background(), "t1", "anything", 4)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryTenantsAreIsolated(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)
	require.NoError(t, m.Ingest(ctx, "t1", "Refund policy text.", "a.txt"))

	got, err := m.Retrieve(ctx, "t2", "refund", 4)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSplitChunks(t *testing.T) {
	got := splitChunks("one\n\n\n\n two \n\nthree")
	assert.Equal(t, []string{"one", "two", "three"}, got)
}
