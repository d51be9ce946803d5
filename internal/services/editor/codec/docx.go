package codec

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	apperrors "github.com/louisbranch/officecollab/internal/platform/errors"
	"github.com/louisbranch/officecollab/internal/services/editor/document"
)

const (
	nsW       = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	nsWStrict = "http://purl.oclc.org/ooxml/wordprocessingml/main"

	packageRelsPart     = "_rels/.rels"
	defaultDocumentPart = "word/document.xml"

	relTypeOfficeDocument = "/officeDocument"
	relTypeStyles         = "/styles"

	defaultStyleName = "Normal"
)

// runWrappers are paragraph children whose runs still count as paragraph text.
var runWrappers = map[string]bool{
	"hyperlink": true,
	"ins":       true,
	"smartTag":  true,
	"fldSimple": true,
}

// lowercaseBuiltins lists built-in style names Word stores lowercased in
// styles.xml but shows capitalized.
var lowercaseBuiltins = map[string]bool{
	"caption": true,
	"footer":  true,
	"header":  true,
}

func init() {
	for level := 1; level <= 9; level++ {
		lowercaseBuiltins[fmt.Sprintf("heading %d", level)] = true
	}
}

type relationships struct {
	Items []relationship `xml:"Relationship"`
}

type relationship struct {
	Type       string `xml:"Type,attr"`
	Target     string `xml:"Target,attr"`
	TargetMode string `xml:"TargetMode,attr"`
}

type stylesXML struct {
	Styles []struct {
		Type    string `xml:"type,attr"`
		ID      string `xml:"styleId,attr"`
		Default string `xml:"default,attr"`
		Name    struct {
			Val string `xml:"val,attr"`
		} `xml:"name"`
	} `xml:"style"`
}

type styleSheet struct {
	names       map[string]string // style id -> display name
	defaultName string
}

func (s styleSheet) name(styleID string) string {
	if styleID == "" {
		return s.defaultName
	}
	if name, ok := s.names[styleID]; ok {
		return name
	}
	return s.defaultName
}

func corrupt(message string, cause error) error {
	return apperrors.Wrap(apperrors.CodeCorruptDocument, message, cause)
}

func decodeDocx(data []byte) (document.Content, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return document.Content{}, corrupt("open docx package", err)
	}
	parts := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		parts[strings.TrimPrefix(f.Name, "/")] = f
	}

	mainPart := defaultDocumentPart
	if rels, ok, err := readRelationships(parts, packageRelsPart); err != nil {
		return document.Content{}, corrupt("read package relationships", err)
	} else if ok {
		if target, found := findRelationship(rels, relTypeOfficeDocument, ""); found {
			mainPart = target
		}
	}
	docFile, ok := parts[mainPart]
	if !ok {
		return document.Content{}, corrupt("open docx package", fmt.Errorf("missing main document part %q", mainPart))
	}

	styles, err := readStyleSheet(parts, mainPart)
	if err != nil {
		return document.Content{}, corrupt("read docx styles", err)
	}

	rc, err := docFile.Open()
	if err != nil {
		return document.Content{}, corrupt("open main document part", err)
	}
	defer rc.Close()
	paragraphs, err := readParagraphs(rc, styles)
	if err != nil {
		return document.Content{}, corrupt("parse main document part", err)
	}
	return document.WordContent(paragraphs), nil
}

func readRelationships(parts map[string]*zip.File, name string) (relationships, bool, error) {
	f, ok := parts[name]
	if !ok {
		return relationships{}, false, nil
	}
	rc, err := f.Open()
	if err != nil {
		return relationships{}, false, err
	}
	defer rc.Close()
	var rels relationships
	if err := xml.NewDecoder(rc).Decode(&rels); err != nil {
		return relationships{}, false, err
	}
	return rels, true, nil
}

// findRelationship returns the package part targeted by the first internal
// relationship whose type ends in typeSuffix, resolved against sourceDir.
func findRelationship(rels relationships, typeSuffix, sourceDir string) (string, bool) {
	for _, rel := range rels.Items {
		if !strings.HasSuffix(rel.Type, typeSuffix) || strings.EqualFold(rel.TargetMode, "External") {
			continue
		}
		target := rel.Target
		if strings.HasPrefix(target, "/") {
			return strings.TrimPrefix(path.Clean(target), "/"), true
		}
		return strings.TrimPrefix(path.Clean(path.Join("/", sourceDir, target)), "/"), true
	}
	return "", false
}

func readStyleSheet(parts map[string]*zip.File, mainPart string) (styleSheet, error) {
	sheet := styleSheet{names: make(map[string]string), defaultName: defaultStyleName}

	dir, file := path.Split(mainPart)
	stylesPart := path.Join(dir, "styles.xml")
	rels, ok, err := readRelationships(parts, path.Join(dir, "_rels", file+".rels"))
	if err != nil {
		return sheet, err
	}
	if ok {
		if target, found := findRelationship(rels, relTypeStyles, dir); found {
			stylesPart = target
		}
	}
	f, ok := parts[stylesPart]
	if !ok {
		return sheet, nil
	}
	rc, err := f.Open()
	if err != nil {
		return sheet, err
	}
	defer rc.Close()

	var styles stylesXML
	if err := xml.NewDecoder(rc).Decode(&styles); err != nil {
		return sheet, err
	}
	for _, style := range styles.Styles {
		if style.Type != "" && style.Type != "paragraph" {
			continue
		}
		name := displayStyleName(style.Name.Val)
		if name == "" {
			name = style.ID
		}
		sheet.names[style.ID] = name
		if style.Default == "1" || strings.EqualFold(style.Default, "true") {
			sheet.defaultName = name
		}
	}
	return sheet, nil
}

func displayStyleName(name string) string {
	name = strings.TrimSpace(name)
	if lowercaseBuiltins[name] {
		return cases.Title(language.English).String(name)
	}
	return name
}

func isW(name xml.Name, local string) bool {
	return name.Local == local && (name.Space == nsW || name.Space == nsWStrict)
}

// readParagraphs collects paragraphs that are direct children of the body.
// Paragraphs inside tables, headers or text boxes are not part of the
// flat paragraph sequence.
func readParagraphs(r io.Reader, styles styleSheet) ([]document.Paragraph, error) {
	dec := xml.NewDecoder(r)
	paragraphs := []document.Paragraph{}
	depth := 0
	bodyDepth := 0
	sawBody := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if !sawBody && isW(t.Name, "body") {
				sawBody = true
				bodyDepth = depth
				continue
			}
			if bodyDepth > 0 && depth == bodyDepth+1 && isW(t.Name, "p") {
				paragraph, err := readParagraph(dec, styles)
				if err != nil {
					return nil, err
				}
				paragraphs = append(paragraphs, paragraph)
				depth--
			}
		case xml.EndElement:
			if depth == bodyDepth {
				bodyDepth = 0
			}
			depth--
		}
	}
	if !sawBody {
		return nil, fmt.Errorf("document body not found")
	}
	return paragraphs, nil
}

// readParagraph consumes tokens up to and including the paragraph's end
// element.
func readParagraph(dec *xml.Decoder, styles styleSheet) (document.Paragraph, error) {
	var (
		text    strings.Builder
		styleID string
		stack   []string
	)
	for {
		tok, err := dec.Token()
		if err != nil {
			return document.Paragraph{}, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			local := t.Name.Local
			if t.Name.Space != nsW && t.Name.Space != nsWStrict {
				local = "~" + local
			}
			if local == "txbxContent" {
				if err := dec.Skip(); err != nil {
					return document.Paragraph{}, err
				}
				continue
			}
			stack = append(stack, local)

			switch {
			case len(stack) == 2 && stack[0] == "pPr" && local == "pStyle":
				styleID = attr(t, "val")
			case inParagraphRun(stack) && local == "t":
				var value struct {
					Text string `xml:",chardata"`
				}
				if err := dec.DecodeElement(&value, &t); err != nil {
					return document.Paragraph{}, err
				}
				text.WriteString(value.Text)
				stack = stack[:len(stack)-1]
			case inParagraphRun(stack) && (local == "tab" || local == "ptab"):
				text.WriteByte('\t')
			case inParagraphRun(stack) && local == "cr":
				text.WriteByte('\n')
			case inParagraphRun(stack) && local == "br":
				if breakType := attr(t, "type"); breakType == "" || breakType == "textWrapping" {
					text.WriteByte('\n')
				}
			}
		case xml.EndElement:
			if len(stack) == 0 {
				return document.Paragraph{Text: text.String(), Style: styles.name(styleID)}, nil
			}
			stack = stack[:len(stack)-1]
		}
	}
}

// inParagraphRun reports whether the innermost element of stack is a direct
// child of a run that belongs to the current paragraph.
func inParagraphRun(stack []string) bool {
	switch len(stack) {
	case 2:
		return stack[0] == "r"
	case 3:
		return runWrappers[stack[0]] && stack[1] == "r"
	default:
		return false
	}
}

func attr(start xml.StartElement, local string) string {
	for _, a := range start.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

type builtinStyle struct {
	id   string
	name string // name as stored in styles.xml
	xml  string // extra pPr/rPr content
}

var builtinStyles = []builtinStyle{
	{id: "Normal", name: "Normal"},
	{id: "Title", name: "Title", xml: `<w:rPr><w:sz w:val="56"/></w:rPr>`},
	{id: "Subtitle", name: "Subtitle", xml: `<w:rPr><w:i/><w:sz w:val="30"/></w:rPr>`},
	{id: "Heading1", name: "heading 1", xml: headingXML(0, 32)},
	{id: "Heading2", name: "heading 2", xml: headingXML(1, 26)},
	{id: "Heading3", name: "heading 3", xml: headingXML(2, 24)},
	{id: "Heading4", name: "heading 4", xml: headingXML(3, 22)},
	{id: "Heading5", name: "heading 5", xml: headingXML(4, 22)},
	{id: "Heading6", name: "heading 6", xml: headingXML(5, 22)},
	{id: "Heading7", name: "heading 7", xml: headingXML(6, 22)},
	{id: "Heading8", name: "heading 8", xml: headingXML(7, 22)},
	{id: "Heading9", name: "heading 9", xml: headingXML(8, 22)},
	{id: "Quote", name: "Quote", xml: `<w:rPr><w:i/></w:rPr>`},
	{id: "IntenseQuote", name: "Intense Quote", xml: `<w:rPr><w:b/><w:i/></w:rPr>`},
	{id: "ListParagraph", name: "List Paragraph", xml: `<w:pPr><w:ind w:left="720"/></w:pPr>`},
	{id: "ListBullet", name: "List Bullet", xml: `<w:pPr><w:ind w:left="360" w:hanging="360"/></w:pPr>`},
	{id: "ListNumber", name: "List Number", xml: `<w:pPr><w:ind w:left="360" w:hanging="360"/></w:pPr>`},
	{id: "NoSpacing", name: "No Spacing", xml: `<w:pPr><w:spacing w:after="0" w:line="240" w:lineRule="auto"/></w:pPr>`},
	{id: "Caption", name: "caption", xml: `<w:rPr><w:b/><w:sz w:val="18"/></w:rPr>`},
}

func headingXML(level, halfPoints int) string {
	return fmt.Sprintf(`<w:pPr><w:keepNext/><w:outlineLvl w:val="%d"/></w:pPr><w:rPr><w:b/><w:sz w:val="%d"/></w:rPr>`, level, halfPoints)
}

var styleIDByFoldedName = func() map[string]string {
	folder := cases.Fold()
	index := make(map[string]string, len(builtinStyles)*3)
	for _, style := range builtinStyles {
		index[folder.String(style.id)] = style.id
		index[folder.String(style.name)] = style.id
		index[folder.String(displayStyleName(style.name))] = style.id
	}
	return index
}()

// resolveStyleID maps a style name to a built-in style id. Unknown names
// resolve to "" so the paragraph keeps the default style.
func resolveStyleID(name string) string {
	styleID := styleIDByFoldedName[cases.Fold().String(strings.TrimSpace(name))]
	if styleID == "Normal" {
		return ""
	}
	return styleID
}

func encodeDocx(paragraphs []document.Paragraph) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	parts := []struct {
		name string
		body []byte
	}{
		{name: "[Content_Types].xml", body: []byte(contentTypesXML)},
		{name: packageRelsPart, body: []byte(packageRelsXML)},
		{name: "word/_rels/document.xml.rels", body: []byte(documentRelsXML)},
		{name: "word/styles.xml", body: stylesPartXML()},
		{name: defaultDocumentPart, body: documentPartXML(paragraphs)},
	}
	for _, part := range parts {
		w, err := zw.Create(part.name)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", part.name, err)
		}
		if _, err := w.Write(part.body); err != nil {
			return nil, fmt.Errorf("write %s: %w", part.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close docx package: %w", err)
	}
	return buf.Bytes(), nil
}

const xmlHeader = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n"

const contentTypesXML = xmlHeader + `<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
	`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>` +
	`<Default Extension="xml" ContentType="application/xml"/>` +
	`<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>` +
	`<Override PartName="/word/styles.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.styles+xml"/>` +
	`</Types>`

const packageRelsXML = xmlHeader + `<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
	`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>` +
	`</Relationships>`

const documentRelsXML = xmlHeader + `<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
	`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles" Target="styles.xml"/>` +
	`</Relationships>`

func stylesPartXML() []byte {
	var b bytes.Buffer
	b.WriteString(xmlHeader)
	b.WriteString(`<w:styles xmlns:w="` + nsW + `">`)
	b.WriteString(`<w:docDefaults><w:rPrDefault><w:rPr><w:sz w:val="22"/></w:rPr></w:rPrDefault>` +
		`<w:pPrDefault><w:pPr><w:spacing w:after="160" w:line="259" w:lineRule="auto"/></w:pPr></w:pPrDefault></w:docDefaults>`)
	for _, style := range builtinStyles {
		b.WriteString(`<w:style w:type="paragraph"`)
		if style.id == "Normal" {
			b.WriteString(` w:default="1"`)
		}
		fmt.Fprintf(&b, ` w:styleId="%s"><w:name w:val="%s"/>`, style.id, style.name)
		if style.id != "Normal" {
			b.WriteString(`<w:basedOn w:val="Normal"/><w:next w:val="Normal"/><w:qFormat/>`)
		}
		b.WriteString(style.xml)
		b.WriteString(`</w:style>`)
	}
	b.WriteString(`</w:styles>`)
	return b.Bytes()
}

func documentPartXML(paragraphs []document.Paragraph) []byte {
	var b bytes.Buffer
	b.WriteString(xmlHeader)
	b.WriteString(`<w:document xmlns:w="` + nsW + `"><w:body>`)
	for _, paragraph := range paragraphs {
		b.WriteString(`<w:p>`)
		if styleID := resolveStyleID(paragraph.Style); styleID != "" {
			fmt.Fprintf(&b, `<w:pPr><w:pStyle w:val="%s"/></w:pPr>`, styleID)
		}
		writeRun(&b, paragraph.Text)
		b.WriteString(`</w:p>`)
	}
	b.WriteString(`<w:sectPr><w:pgSz w:w="12240" w:h="15840"/>` +
		`<w:pgMar w:top="1440" w:right="1440" w:bottom="1440" w:left="1440" w:header="720" w:footer="720" w:gutter="0"/></w:sectPr>`)
	b.WriteString(`</w:body></w:document>`)
	return b.Bytes()
}

// writeRun emits text as one run, turning tabs and line breaks into their
// run elements.
func writeRun(b *bytes.Buffer, text string) {
	if text == "" {
		return
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	b.WriteString(`<w:r>`)
	segment := strings.Builder{}
	flush := func() {
		if segment.Len() == 0 {
			return
		}
		b.WriteString(`<w:t xml:space="preserve">`)
		_ = xml.EscapeText(b, []byte(segment.String()))
		b.WriteString(`</w:t>`)
		segment.Reset()
	}
	for _, r := range text {
		switch r {
		case '\t':
			flush()
			b.WriteString(`<w:tab/>`)
		case '\n':
			flush()
			b.WriteString(`<w:br/>`)
		default:
			segment.WriteRune(r)
		}
	}
	flush()
	b.WriteString(`</w:r>`)
}
