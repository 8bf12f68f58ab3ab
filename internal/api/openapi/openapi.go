// Пакет openapi — встроенный OpenAPI-контракт HTTP API.
// Документ загружается и валидируется при старте и отдаётся как есть.
package openapi

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var contractYAML []byte

// Document — загруженный и проверенный контракт.
type Document struct {
	doc *openapi3.T
	raw []byte
}

// Load разбирает встроенный контракт и проверяет его на корректность.
func Load(ctx context.Context) (*Document, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(contractYAML)
	if err != nil {
		return nil, fmt.Errorf("разбор OpenAPI контракта: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("валидация OpenAPI контракта: %w", err)
	}
	return &Document{doc: doc, raw: contractYAML}, nil
}

// Version — версия API из info.version.
func (d *Document) Version() string {
	return d.doc.Info.Version
}

// HasOperation проверяет, что в контракте описана операция method path.
func (d *Document) HasOperation(method, path string) bool {
	item := d.doc.Paths.Find(path)
	if item == nil {
		return false
	}
	return item.GetOperation(method) != nil
}

// ServeHTTP отдаёт исходный YAML контракта.
func (d *Document) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(d.raw)
}
