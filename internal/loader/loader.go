// Package loader turns uploaded bytes into a plain-text Document.
package loader

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"tutorllm/internal/errs"
	"tutorllm/internal/model"
	"tutorllm/internal/pkg/pdfextract"
)

var contentTypes = map[string]model.ContentType{
	".txt":      model.ContentText,
	".md":       model.ContentText,
	".markdown": model.ContentText,
	".csv":      model.ContentTabular,
	".tsv":      model.ContentTabular,
	".pdf":      model.ContentBinaryExtracted,
}

// Supported reports whether filename has an extension Load understands.
func Supported(filename string) bool {
	_, ok := contentTypes[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// DocumentID derives the document identifier from a filename: the base name
// with every character outside [A-Za-z0-9._-] replaced by '_'.
func DocumentID(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, base)
}

// Load detects the content type from the filename and extracts text.
// Failures are IngestionError kinds.
func Load(filename string, data []byte) (*model.Document, error) {
	id := DocumentID(filename)
	if id == "" {
		return nil, errs.New(errs.KindIngestion, "missing filename")
	}
	ext := strings.ToLower(filepath.Ext(filename))
	contentType, ok := contentTypes[ext]
	if !ok {
		return nil, errs.New(errs.KindIngestion, "unsupported file type "+quoteExt(ext))
	}
	if len(data) == 0 {
		return nil, errs.New(errs.KindIngestion, "empty file "+filename)
	}

	var (
		text string
		err  error
	)
	switch contentType {
	case model.ContentText:
		text, err = decodeText(data)
	case model.ContentTabular:
		delim := ','
		if ext == ".tsv" {
			delim = '\t'
		}
		text, err = decodeTable(data, delim)
	case model.ContentBinaryExtracted:
		text, err = pdfextract.ExtractText(data)
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindIngestion, "could not read "+filename, err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, errs.New(errs.KindIngestion, filename+" contains no extractable text")
	}

	return &model.Document{
		ID:          id,
		Filename:    filepath.Base(filename),
		ContentType: contentType,
		Text:        text,
	}, nil
}

func quoteExt(ext string) string {
	if ext == "" {
		return "(none)"
	}
	return ext
}

func decodeText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return "", errors.New("text is not valid UTF-8")
	}
	return strings.ReplaceAll(string(data), "\r\n", "\n"), nil
}

// decodeTable renders each data row as "header: value" lines, rows separated
// by a blank line so the chunker prefers to keep rows whole.
func decodeTable(data []byte, delim rune) (string, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	r.Comma = delim
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		return "", err
	}

	var rows []string
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		lines := make([]string, 0, len(record))
		for i, value := range record {
			name := "column " + strconv.Itoa(i+1)
			if i < len(header) && strings.TrimSpace(header[i]) != "" {
				name = strings.TrimSpace(header[i])
			}
			lines = append(lines, name+": "+strings.TrimSpace(value))
		}
		rows = append(rows, strings.Join(lines, "\n"))
	}
	return strings.Join(rows, "\n\n"), nil
}
