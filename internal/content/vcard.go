package content

import (
	"strings"
)

var vcardEscaper = strings.NewReplacer(
	`\`, `\\`,
	",", `\,`,
	";", `\;`,
	"\r\n", `\n`,
	"\n", `\n`,
	"\r", `\n`,
)

// RenderVCard writes c as a vCard 4.0 document. Empty fields are omitted.
func RenderVCard(c Contact) string {
	var b strings.Builder
	line := func(name, value string) {
		if value == "" {
			return
		}
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(vcardEscaper.Replace(value))
		b.WriteString("\r\n")
	}

	b.WriteString("BEGIN:VCARD\r\n")
	b.WriteString("VERSION:4.0\r\n")
	b.WriteString("FN:")
	b.WriteString(vcardEscaper.Replace(c.FullName))
	b.WriteString("\r\n")
	line("EMAIL", c.Email)
	line("TEL", c.Phone)
	line("ORG", c.Organization)
	line("TITLE", c.JobTitle)
	line("URL", c.Website)
	if c.Address != "" {
		// ADR is structured; the free-form address goes in the street component.
		b.WriteString("ADR:;;")
		b.WriteString(vcardEscaper.Replace(c.Address))
		b.WriteString(";;;;\r\n")
	}
	line("NOTE", c.Note)
	b.WriteString("END:VCARD\r\n")

	return b.String()
}
