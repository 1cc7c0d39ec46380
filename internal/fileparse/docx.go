package fileparse

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const docxBodyPart = "word/document.xml"

// docxContent is what the extractor reads from word/document.xml: body
// paragraphs outside tables, and the rows of top-level tables.
type docxContent struct {
	paragraphs []string
	rows       [][]string
}

// extractDOCX joins body paragraphs with newlines. Documents without body
// text fall back to their table rows, cells joined by tabs.
func extractDOCX(data []byte) (string, error) {
	content, err := readDOCX(data)
	if err != nil {
		return "", err
	}

	text := strings.Join(content.paragraphs, "\n")
	if strings.TrimSpace(text) == "" {
		var sb strings.Builder
		sb.WriteString(text)
		for _, row := range content.rows {
			sb.WriteString(strings.Join(row, "\t"))
			sb.WriteString("\n")
		}
		text = sb.String()
	}

	return strings.TrimSpace(text), nil
}

func readDOCX(data []byte) (*docxContent, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	for _, f := range zr.File {
		if f.Name != docxBodyPart {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", docxBodyPart, err)
		}
		defer rc.Close()
		return walkDocument(rc)
	}

	return nil, errors.New("archive has no " + docxBodyPart)
}

// walkDocument streams the WordprocessingML body. Element names are matched
// by local name; the w: namespace is the only one that carries them.
func walkDocument(r io.Reader) (*docxContent, error) {
	dec := xml.NewDecoder(r)
	out := &docxContent{}

	var (
		paras     []*strings.Builder // open paragraphs, innermost last
		tblDepth  int
		inText    bool
		inTabs    bool
		row       []string
		cellParas []string
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", docxBodyPart, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				tblDepth++
			case "tr":
				if tblDepth == 1 {
					row = nil
				}
			case "tc":
				if tblDepth == 1 {
					cellParas = nil
				}
			case "p":
				paras = append(paras, &strings.Builder{})
			case "t":
				inText = true
			case "tabs":
				inTabs = true
			case "tab":
				if !inTabs && len(paras) > 0 {
					paras[len(paras)-1].WriteByte('\t')
				}
			case "br", "cr":
				if len(paras) > 0 {
					paras[len(paras)-1].WriteByte('\n')
				}
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "tabs":
				inTabs = false
			case "p":
				if len(paras) == 0 {
					continue
				}
				text := paras[len(paras)-1].String()
				paras = paras[:len(paras)-1]
				switch tblDepth {
				case 0:
					out.paragraphs = append(out.paragraphs, text)
				case 1:
					cellParas = append(cellParas, text)
				}
			case "tc":
				if tblDepth == 1 {
					row = append(row, strings.Join(cellParas, "\n"))
				}
			case "tr":
				if tblDepth == 1 {
					out.rows = append(out.rows, row)
				}
			case "tbl":
				tblDepth--
			}

		case xml.CharData:
			if inText && len(paras) > 0 {
				paras[len(paras)-1].Write(t)
			}
		}
	}

	return out, nil
}
