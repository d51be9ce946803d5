// Package codec converts binary office documents to canonical content and
// back.
package codec

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	apperrors "github.com/louisbranch/officecollab/internal/platform/errors"
	"github.com/louisbranch/officecollab/internal/services/editor/document"
)

const tracerName = "github.com/louisbranch/officecollab/internal/services/editor/codec"

const (
	mimeWord        = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeSpreadsheet = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ParseFormat resolves the office format from a filename extension.
func ParseFormat(filename string) (document.Format, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(strings.TrimSpace(filename)), "."))
	format := document.Format(ext)
	if !format.Valid() {
		return "", apperrors.WithMetadata(
			apperrors.CodeUnsupportedFormat,
			fmt.Sprintf("unsupported file extension %q", ext),
			map[string]string{"extension": ext},
		)
	}
	return format, nil
}

// Decode parses a binary office document into canonical content.
func Decode(ctx context.Context, data []byte, format document.Format) (content document.Content, err error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "codec.Decode")
	span.SetAttributes(attribute.String("format", string(format)), attribute.Int("bytes", len(data)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	defer func() {
		if recovered := recover(); recovered != nil {
			err = apperrors.Wrap(apperrors.CodeCorruptDocument, fmt.Sprintf("parse %s", format), fmt.Errorf("parser panic: %v", recovered))
		}
	}()

	switch format {
	case document.FormatDocx:
		return decodeDocx(data)
	case document.FormatXlsx:
		return decodeXlsx(data)
	case document.FormatXls:
		return decodeXls(data)
	default:
		return document.Content{}, apperrors.New(apperrors.CodeUnsupportedFormat, fmt.Sprintf("unsupported format %q", format))
	}
}

// Encode rebuilds a binary office document from canonical content. Word
// content always encodes to docx and spreadsheet content to xlsx.
func Encode(ctx context.Context, content document.Content, kind document.Kind) (data []byte, err error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "codec.Encode")
	span.SetAttributes(attribute.String("kind", string(kind)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int("bytes", len(data)))
		}
		span.End()
	}()

	if content.Kind() != kind {
		return nil, apperrors.New(apperrors.CodeCorruptDocument, fmt.Sprintf("cannot encode %q content as %s", content.Kind(), kind))
	}
	switch kind {
	case document.KindWord:
		return encodeDocx(content.Paragraphs())
	case document.KindSpreadsheet:
		return encodeXlsx(content.Table())
	default:
		return nil, apperrors.New(apperrors.CodeCorruptDocument, fmt.Sprintf("unknown content kind %q", kind))
	}
}

// MIMEType returns the download content type for an encoded kind.
func MIMEType(kind document.Kind) string {
	if kind == document.KindWord {
		return mimeWord
	}
	return mimeSpreadsheet
}

// OriginalName returns the base of an uploaded filename, safe to use in a
// Content-Disposition header.
func OriginalName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "document"
	}
	return name
}

// DownloadName returns the filename an encoded document is served under.
// Legacy xls uploads are re-encoded as xlsx, so their extension changes.
func DownloadName(name string, format document.Format) string {
	name = OriginalName(name)
	if format != document.FormatXls {
		return name
	}
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + ".xlsx"
}
