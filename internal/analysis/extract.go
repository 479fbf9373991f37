package analysis

import (
	"bytes"
	"errors"
	"mime"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"golang.org/x/net/html"
	"rsc.io/pdf"
)

const maxPDFRunes = 220_000

var (
	ErrUnsupportedContentType = errors.New("unsupported content type")
	ErrEmptyContent           = errors.New("extracted content is empty")
)

// schema.org types that describe the page rather than the business.
var structuralSchemaTypes = map[string]bool{
	"WebSite": true, "WebPage": true, "BreadcrumbList": true, "ListItem": true,
	"ImageObject": true, "SearchAction": true, "ReadAction": true, "EntryPoint": true,
	"SiteNavigationElement": true, "PostalAddress": true, "GeoCoordinates": true,
}

// ExtractText turns a fetched page or an uploaded brief into plain text.
// HTML yields its <title> as well; plain text, markdown and PDF do not.
func ExtractText(contentType string, body []byte, maxRunes int) (title, text string, err error) {
	if maxRunes <= 0 {
		maxRunes = defaultMaxTextRunes
	}
	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if parsed, _, parseErr := mime.ParseMediaType(mediaType); parseErr == nil {
		mediaType = parsed
	}

	switch {
	case mediaType == "text/html", mediaType == "application/xhtml+xml":
		var signals *pageSignals
		if signals, err = readPageSignals(body); err == nil {
			title, text = signals.title(), signals.text()
		}
	case mediaType == "application/pdf":
		text, err = extractPDFText(body)
	case strings.HasPrefix(mediaType, "text/"):
		text = string(body)
	default:
		return "", "", ErrUnsupportedContentType
	}
	if err != nil {
		return "", "", err
	}

	title = trimToRunes(strings.TrimSpace(title), 240)
	text = trimToRunes(normalizeText(text), maxRunes)
	if text == "" && title == "" {
		return "", "", ErrEmptyContent
	}
	return title, text, nil
}

// pageSignals is what a homepage says about the business behind it.
type pageSignals struct {
	pageTitle   string
	siteName    string
	description string
	schemaTypes []string
	locality    string
	body        strings.Builder
}

func readPageSignals(data []byte) (*pageSignals, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	signals := &pageSignals{}
	signals.visit(doc, false)
	return signals, nil
}

func (s *pageSignals) title() string {
	if s.pageTitle != "" {
		return s.pageTitle
	}
	return s.siteName
}

// text leads with the self-description and structured data, then the
// visible copy.
func (s *pageSignals) text() string {
	var lines []string
	if s.description != "" {
		lines = append(lines, s.description)
	}
	if len(s.schemaTypes) > 0 {
		lines = append(lines, "Business type: "+strings.Join(s.schemaTypes, ", "))
	}
	if s.locality != "" {
		lines = append(lines, "Location: "+s.locality)
	}
	lines = append(lines, s.body.String())
	return strings.Join(lines, "\n")
}

func (s *pageSignals) visit(node *html.Node, hidden bool) {
	switch node.Type {
	case html.TextNode:
		if hidden {
			return
		}
		if trimmed := strings.TrimSpace(node.Data); trimmed != "" {
			s.body.WriteString(trimmed)
			s.body.WriteByte(' ')
		}
		return
	case html.ElementNode:
		switch node.Data {
		case "title":
			if s.pageTitle == "" {
				s.pageTitle = strings.Join(strings.Fields(nodeText(node)), " ")
			}
			return
		case "meta":
			s.readMeta(node)
			return
		case "script":
			if strings.EqualFold(attrValue(node, "type"), "application/ld+json") {
				s.readStructuredData(nodeText(node))
			}
			return
		case "style", "noscript", "svg", "iframe", "template":
			return
		case "head":
			hidden = true
		case "p", "div", "section", "article", "li", "h1", "h2", "h3", "h4", "h5", "h6", "br", "tr", "address":
			if s.body.Len() > 0 {
				s.body.WriteByte('\n')
			}
		}
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		s.visit(child, hidden)
	}
}

func (s *pageSignals) readMeta(node *html.Node) {
	key := strings.ToLower(strings.TrimSpace(attrValue(node, "name")))
	if key == "" {
		key = strings.ToLower(strings.TrimSpace(attrValue(node, "property")))
	}
	content := strings.TrimSpace(attrValue(node, "content"))
	if content == "" {
		return
	}
	switch key {
	case "description":
		s.description = content
	case "og:description":
		if s.description == "" {
			s.description = content
		}
	case "og:site_name":
		s.siteName = content
	}
}

// readStructuredData collects business types and the locality from a
// JSON-LD block. Blocks may hold one entity, an array, or an @graph.
func (s *pageSignals) readStructuredData(raw string) {
	if !gjson.Valid(raw) {
		return
	}
	doc := gjson.Parse(raw)
	entities := []gjson.Result{doc}
	switch {
	case doc.IsArray():
		entities = doc.Array()
	case doc.Get("@graph").IsArray():
		entities = doc.Get("@graph").Array()
	}

	for _, entity := range entities {
		// ForEach visits a plain string @type once.
		entity.Get("@type").ForEach(func(_, value gjson.Result) bool {
			s.addSchemaType(value.String())
			return true
		})
		if s.locality == "" {
			s.locality = strings.TrimSpace(entity.Get("address.addressLocality").String())
		}
	}
}

func (s *pageSignals) addSchemaType(raw string) {
	raw = strings.TrimSpace(raw)
	if raw == "" || structuralSchemaTypes[raw] {
		return
	}
	label := splitCamelCase(raw)
	for _, existing := range s.schemaTypes {
		if existing == label {
			return
		}
	}
	s.schemaTypes = append(s.schemaTypes, label)
}

// splitCamelCase turns "AutoRepair" into "Auto Repair" so schema types read
// like the keywords the classifier matches.
func splitCamelCase(raw string) string {
	var builder strings.Builder
	runes := []rune(raw)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
			builder.WriteByte(' ')
		}
		builder.WriteRune(r)
	}
	return builder.String()
}

func attrValue(node *html.Node, key string) string {
	for _, attr := range node.Attr {
		if strings.EqualFold(attr.Key, key) {
			return attr.Val
		}
	}
	return ""
}

func nodeText(node *html.Node) string {
	var builder strings.Builder
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.TextNode {
			builder.WriteString(child.Data)
			builder.WriteByte(' ')
		}
	}
	return builder.String()
}

// extractPDFText reads page text in order and stops at maxPDFRunes.
func extractPDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var (
		lines  []string
		budget = maxPDFRunes
	)
	for pageNum := 1; pageNum <= reader.NumPage() && budget > 0; pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		for _, item := range page.Content().Text {
			chunk := strings.TrimSpace(item.S)
			if chunk == "" {
				continue
			}
			chunk = trimToRunes(chunk, budget)
			lines = append(lines, chunk)
			budget -= utf8.RuneCountInString(chunk) + 1
			if budget <= 0 {
				break
			}
		}
	}
	return strings.Join(lines, "\n"), nil
}

func normalizeText(raw string) string {
	normalized := strings.ToValidUTF8(strings.ReplaceAll(raw, "\r\n", "\n"), "")
	lines := strings.Split(normalized, "\n")
	compact := lines[:0]
	for _, line := range lines {
		if fields := strings.Fields(line); len(fields) > 0 {
			compact = append(compact, strings.Join(fields, " "))
		}
	}
	return strings.Join(compact, "\n")
}

func trimToRunes(raw string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(raw) <= limit {
		return raw
	}
	return string([]rune(raw)[:limit])
}
