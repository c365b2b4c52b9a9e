package epub

import (
	"fmt"
	"strings"
)

// generateNavigation creates the nav.xhtml navigation document. Chapters that
// share a group title are nested under a heading entry for that group.
func (b *Builder) generateNavigation() string {
	var sb strings.Builder

	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<head>
  <title>Table of Contents</title>
  <link rel="stylesheet" type="text/css" href="styles/style.css"/>
</head>
<body>
  <nav epub:type="toc" id="toc">
    <h1>Table of Contents</h1>
    <ol>
`)

	var i int
	for i < len(b.chapters) {
		ch := b.chapters[i]
		if ch.GroupTitle == "" {
			sb.WriteString(b.navEntry(ch))
			i++
			continue
		}

		// Run of chapters sharing the same group.
		j := i
		for j < len(b.chapters) && b.chapters[j].GroupTitle == ch.GroupTitle {
			j++
		}
		sb.WriteString(fmt.Sprintf("      <li>\n        <span>%s</span>\n        <ol>\n",
			escapeXML(ch.GroupTitle)))
		for _, nch := range b.chapters[i:j] {
			sb.WriteString("        ")
			sb.WriteString(b.navEntry(nch))
		}
		sb.WriteString("        </ol>\n      </li>\n")
		i = j
	}

	sb.WriteString(`    </ol>
  </nav>
</body>
</html>
`)

	return sb.String()
}

// navEntry creates a single navigation entry.
func (b *Builder) navEntry(ch Chapter) string {
	return fmt.Sprintf("      <li><a href=\"chapters/%s.xhtml\">%s</a></li>\n",
		ch.ID, escapeXML(ch.Title))
}

// generateNCX creates the toc.ncx for ePub 2 compatibility.
func (b *Builder) generateNCX() string {
	var sb strings.Builder

	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
  <head>
    <meta name="dtb:uid" content="`)
	sb.WriteString(b.pubID)
	sb.WriteString(`"/>
    <meta name="dtb:depth" content="1"/>
    <meta name="dtb:totalPageCount" content="0"/>
    <meta name="dtb:maxPageNumber" content="0"/>
  </head>
  <docTitle>
    <text>`)
	sb.WriteString(escapeXML(b.book.Title))
	sb.WriteString(`</text>
  </docTitle>
  <navMap>
`)

	for i, ch := range b.chapters {
		sb.WriteString(fmt.Sprintf("    <navPoint id=\"navpoint-%d\" playOrder=\"%d\">\n", i+1, i+1))
		sb.WriteString(fmt.Sprintf("      <navLabel><text>%s</text></navLabel>\n", escapeXML(ch.Title)))
		sb.WriteString(fmt.Sprintf("      <content src=\"chapters/%s.xhtml\"/>\n", ch.ID))
		sb.WriteString("    </navPoint>\n")
	}

	sb.WriteString(`  </navMap>
</ncx>
`)

	return sb.String()
}
