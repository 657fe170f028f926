package postgres

import (
	"bytes"
	"context"
	_ "embed"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"gorm.io/gorm"

	"transcript-rag/internal/model"
)

//go:embed schema/vector_store.sql
var vectorStoreSchema string

var vectorStoreTmpl = template.Must(template.New("vector_store").Parse(vectorStoreSchema))

// Migrate prepares the vector store. The embedding column is sized to the
// configured model so the HNSW index can be built.
func Migrate(ctx context.Context, db *gorm.DB, dimension int) error {
	if dimension <= 0 {
		return goerr.New("invalid embedding dimension", goerr.V("dimension", dimension))
	}

	var ddl bytes.Buffer
	if err := vectorStoreTmpl.Execute(&ddl, map[string]int{"Dimension": dimension}); err != nil {
		return goerr.Wrap(err, "render vector store schema failed")
	}

	tx := db.WithContext(ctx)
	for _, stmt := range strings.Split(ddl.String(), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if err := tx.Exec(stmt).Error; err != nil {
			return goerr.Wrap(err, "apply vector store schema failed", goerr.V("statement", stmt))
		}
	}
	if err := tx.AutoMigrate(&model.CleaningFailure{}); err != nil {
		return goerr.Wrap(err, "auto migrate failure table failed")
	}
	return nil
}
