// Package editor implements collaborative editing of uploaded office
// documents.
//
// Uploaded word-processing and spreadsheet files are decoded into canonical
// content held in memory. Connected editors join a per-document room and push
// full-content replacements that fan out to every other member; the last write
// applied by the store wins. Downloads re-encode the current content.
package editor
