package file

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublicID(t *testing.T) {
	tests := []struct {
		name   string
		file   string
		prefix string
	}{
		{name: "keeps the base name", file: "statement.pdf", prefix: "statement-"},
		{name: "replaces unsafe characters", file: "my bank (march).pdf", prefix: "my-bank-march-"},
		{name: "drops directories", file: "../../etc/passwd.png", prefix: "passwd-"},
		{name: "falls back for empty names", file: ".pdf", prefix: "document-"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := publicID(tt.file)
			require.True(t, strings.HasPrefix(id, tt.prefix), id)
			require.Len(t, id, len(tt.prefix)+36)
		})
	}

	require.NotEqual(t, publicID("statement.pdf"), publicID("statement.pdf"))
}

func TestUpload_NotConfigured(t *testing.T) {
	uploader := New("", "", "", nil)

	_, err := uploader.Upload(context.Background(), "statement.pdf", strings.NewReader("%PDF"))
	require.ErrorIs(t, err, ErrNotConfigured)
}
