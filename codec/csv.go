package codec

import (
	"bytes"
	"encoding/csv"
	"io"
	"mime"
)

// registerCSVCodec registers text/csv (plus the
// text/tab-separated-values and text/tsv aliases) using the standard
// library's encoding/csv. No repository in the retrieval pack carries
// a third-party CSV library (see DESIGN.md for the stdlib
// justification), so this is the one parser in the registry built
// directly on the standard library.
//
// Supported parameters from spec.md section 4.1: "header" (when
// "present", the first row becomes field names and Parse returns
// []map[string]string instead of [][]string) and "x-separator"
// (single-character field delimiter, default comma) and "x-bom"
// (strip a leading UTF-8 BOM). "x-quote"/"x-escape"/"x-eol" are
// accepted but not honored beyond encoding/csv's own fixed
// conventions (double-quote quoting, CRLF-or-LF auto-detection on
// read, LF on write) since the standard library's Reader/Writer have
// no hooks for a custom quote or escape byte.
func registerCSVCodec(r *Registry) {
	parse := ParserFunc(csvParse)
	encode := EncoderFunc(csvEncode)

	for _, mt := range []string{"text/csv", "text/tab-separated-values", "text/tsv"} {
		r.RegisterParser(mt, parse)
		r.RegisterEncoder(mt, encode)
	}
}

func csvParams(contentType string) (header bool, sep rune) {
	sep = ','

	_, params, _ := mime.ParseMediaType(contentType)
	if params["header"] == "present" {
		header = true
	}

	if s := params["x-separator"]; len(s) == 1 {
		sep = rune(s[0])
	}

	return header, sep
}

func csvParse(reader io.Reader, contentType string) (Parsed, error) {
	header, sep := csvParams(contentType)

	_, params, _ := mime.ParseMediaType(contentType)
	if params["x-bom"] == "true" {
		b, err := io.ReadAll(reader)
		if err != nil {
			return Parsed{}, err
		}

		reader = bytes.NewReader(stripUTF8BOM(b))
	}

	cr := csv.NewReader(reader)
	cr.Comma = sep
	cr.FieldsPerRecord = -1

	rows, err := cr.ReadAll()
	if err != nil {
		return Parsed{}, err
	}

	if !header {
		return Parsed{Value: rows}, nil
	}

	if len(rows) == 0 {
		return Parsed{Value: []map[string]string{}}, nil
	}

	cols := rows[0]
	out := make([]map[string]string, 0, len(rows)-1)

	for _, row := range rows[1:] {
		m := make(map[string]string, len(cols))
		for i, c := range cols {
			if i < len(row) {
				m[c] = row[i]
			}
		}

		out = append(out, m)
	}

	return Parsed{Value: out}, nil
}

func csvEncode(w io.Writer, v interface{}, contentType string) (string, error) {
	header, sep := csvParams(contentType)

	cw := csv.NewWriter(w)
	cw.Comma = sep

	switch rows := v.(type) {
	case [][]string:
		if err := cw.WriteAll(rows); err != nil {
			return contentType, err
		}
	case []map[string]string:
		if len(rows) == 0 {
			cw.Flush()
			return contentType, cw.Error()
		}

		var cols []string
		for k := range rows[0] {
			cols = append(cols, k)
		}

		if header {
			if err := cw.Write(cols); err != nil {
				return contentType, err
			}
		}

		for _, row := range rows {
			rec := make([]string, len(cols))
			for i, c := range cols {
				rec[i] = row[c]
			}

			if err := cw.Write(rec); err != nil {
				return contentType, err
			}
		}

		cw.Flush()

		return contentType, cw.Error()
	}

	cw.Flush()

	return contentType, cw.Error()
}
