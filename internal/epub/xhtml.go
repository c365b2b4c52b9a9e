package epub

import "strings"

// generateChapterXHTML wraps a chapter's HTML body in an XHTML document. The
// body arrives pre-sanitized from the site scrapers, so it is embedded as-is
// under a generated heading.
func (b *Builder) generateChapterXHTML(ch Chapter) string {
	var sb strings.Builder

	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml">
<head>
  <title>`)
	sb.WriteString(escapeXML(ch.Title))
	sb.WriteString(`</title>
  <link rel="stylesheet" type="text/css" href="../styles/style.css"/>
</head>
<body>
`)

	sb.WriteString("<header class=\"chapter-title\">\n")
	if ch.GroupTitle != "" {
		sb.WriteString("  <div class=\"group-title\">")
		sb.WriteString(escapeXML(ch.GroupTitle))
		sb.WriteString("</div>\n")
	}
	sb.WriteString("  <h1>")
	sb.WriteString(escapeXML(ch.Title))
	sb.WriteString("</h1>\n</header>\n")

	sb.WriteString(ch.HTML)
	if !strings.HasSuffix(ch.HTML, "\n") {
		sb.WriteString("\n")
	}

	sb.WriteString("</body>\n</html>\n")

	return sb.String()
}
