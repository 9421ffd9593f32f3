package notify

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/telekom/owners-notify/pkg/owners"
	"github.com/telekom/owners-notify/pkg/uri"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// sections lists the body templates in rendering order.
var sections = []string{
	"summary.tmpl",
	"description.tmpl",
	"primary_owner.tmpl",
	"owners.tmpl",
	"auditing.tmpl",
	"paths.tmpl",
}

var bodyTemplates = template.Must(
	template.New("body").Funcs(sprig.TxtFuncMap()).ParseFS(templateFS, "templates/*.tmpl"),
)

type repositoryView struct {
	Name  string
	URI   string
	Paths []string
}

type bodyData struct {
	Package      owners.Package
	Verb         string
	Actor        owners.Handle
	PrimaryOwner owners.Handle
	Description  string
	DetailURI    string
	OwnerNames   []string
	Repositories []repositoryView
}

// PackageURI is the canonical path of a package's detail page.
func PackageURI(packageID string) string {
	return "/owners/package/" + packageID + "/"
}

// Render produces the plain-text body for d. Sections without content are
// dropped and the remaining ones are separated by a blank line.
func Render(d Draft, v Variant, uris *uri.Builder) (string, error) {
	if uris == nil {
		return "", &ConfigurationError{Field: "notify.baseURL", Reason: "no URI builder configured"}
	}
	if err := d.checkHandles(); err != nil {
		return "", err
	}

	data := bodyData{
		Package:      d.Package,
		Verb:         v.Verb(),
		Actor:        d.Handles[d.Package.ActorID],
		PrimaryOwner: d.Handles[d.Package.PrimaryOwnerID],
		Description:  strings.TrimRight(d.Package.Description, " \t\r\n"),
		DetailURI:    uris.ProductionURI(PackageURI(d.Package.ID)),
	}
	if strings.TrimSpace(data.Description) == "" {
		data.Description = ""
	}
	for _, id := range d.OwnerIDs {
		data.OwnerNames = append(data.OwnerNames, d.Handles[id].Name)
	}
	for _, repo := range d.Repositories {
		h := d.Handles[repo.RepositoryID]
		data.Repositories = append(data.Repositories, repositoryView{
			Name:  h.Name,
			URI:   uris.ProductionURI(h.URI),
			Paths: repo.Paths,
		})
	}

	parts := make([]string, 0, len(sections))
	for _, name := range sections {
		var buf bytes.Buffer
		if err := bodyTemplates.ExecuteTemplate(&buf, name, data); err != nil {
			return "", fmt.Errorf("rendering %s: %w", name, err)
		}
		if section := strings.TrimRight(buf.String(), "\n"); strings.TrimSpace(section) != "" {
			parts = append(parts, section)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// Subject returns the mail subject for a package title.
func Subject(prefix, title string) string {
	return strings.TrimSpace(prefix + " " + title)
}

// VarySubject is the subject variant that carries the verb.
func VarySubject(prefix, verb, title string) string {
	return strings.TrimSpace(prefix + " [" + verb + "] " + title)
}

// ThreadID returns the thread identifier shared by all mails about a package.
func ThreadID(packageID string) string {
	return "package-" + packageID
}

// ThreadTopic is the human-readable form of ThreadID.
func ThreadTopic(packageID string) string {
	return "package " + packageID
}
