package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDataset() Dataset {
	return Dataset{
		Title:   "STEM Excellence applications",
		Summary: []string{"remaining funding: 35000"},
		Headers: []string{"id", "student", "amount", "status"},
		Rows: [][]string{
			{"app-1", "0xaa", "500", "pending"},
			{"app-2", "0xbb", "750.5", "approved"},
		},
	}
}

func TestRenderCSV(t *testing.T) {
	out, err := RenderCSV(sampleDataset())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "# remaining funding: 35000", lines[0])
	assert.Equal(t, "id,student,amount,status", lines[1])
	assert.Equal(t, "app-2,0xbb,750.5,approved", lines[3])
}

func TestRenderPDF(t *testing.T) {
	out, err := RenderPDF(sampleDataset())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestRenderRejectsRaggedRows(t *testing.T) {
	data := sampleDataset()
	data.Rows = append(data.Rows, []string{"only-one"})
	_, err := RenderCSV(data)
	assert.Error(t, err)
	_, err = RenderPDF(data)
	assert.Error(t, err)
}
