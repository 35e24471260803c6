package memorymanager

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/w-h-a/workmem/memory_manager/providers/storer"
)

func TestBackup(t *testing.T) {
	createdAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	records := []storer.Record{
		{
			Id:         "1",
			Summary:    "first",
			Embedding:  []float32{0.1, 0.2},
			SessionKey: "agent:main:dm:1",
			Origin:     storer.OriginDirect,
			CreatedAt:  createdAt,
			HasAction:  true,
			Topics:     []string{"travel"},
			Reference:  storer.Reference{SourcePath: "a.jsonl", FirstMessageId: "m1", LastMessageId: "m4"},
		},
		{
			Id:        "2",
			Summary:   "second",
			Embedding: []float32{0.3, 0.4},
			Origin:    storer.OriginUnknown,
			CreatedAt: createdAt.Add(time.Hour),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteBackup(&buf, records))

	assert.Equal(t, 2, strings.Count(buf.String(), "\n"))

	restored, err := ReadBackup(&buf)
	require.NoError(t, err)
	assert.Equal(t, records, restored)

	t.Run("empty backup", func(t *testing.T) {
		restored, err := ReadBackup(strings.NewReader(""))
		require.NoError(t, err)
		assert.Empty(t, restored)
	})

	t.Run("corrupt line", func(t *testing.T) {
		_, err := ReadBackup(strings.NewReader("{\"id\":\"1\"}\n{not json\n"))
		assert.ErrorContains(t, err, "record 2")
	})
}
