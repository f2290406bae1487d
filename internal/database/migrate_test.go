package database

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaRelationForeignKeys(t *testing.T) {
	var relation string
	for _, stmt := range schema(3) {
		if strings.Contains(stmt, "CREATE TABLE IF NOT EXISTS image_tag_relation") {
			relation = stmt
		}
	}
	require.NotEmpty(t, relation)
	assert.Contains(t, relation, "REFERENCES images(id) ON DELETE CASCADE")
	assert.Contains(t, relation, "REFERENCES tags(id) ON DELETE RESTRICT")
	assert.NotContains(t, relation, "tags(id) ON DELETE CASCADE")
}

func TestSchemaEmbeddingWidth(t *testing.T) {
	assert.Contains(t, strings.Join(schema(768), "\n"), "vector(768)")
}

func TestMigrateRejectsNonPositiveDimension(t *testing.T) {
	err := Migrate(context.Background(), nil, 0)
	assert.ErrorContains(t, err, "embedding dimension must be positive")
}
