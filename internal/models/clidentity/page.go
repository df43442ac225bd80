package clidentity

import "strings"

type PageType string

const (
	PageHome      PageType = "home"
	PageBlogIndex PageType = "blog_index"
	PageBlogPost  PageType = "blog_post"
	PageApps      PageType = "apps"
	PageProjects  PageType = "projects"
	PageAbout     PageType = "about"
	PageOther     PageType = "other"
)

// ClassifySlug range un chemin dans une catégorie fixe
func ClassifySlug(slug string) PageType {
	switch {
	case slug == "/":
		return PageHome
	case slug == "/blog":
		return PageBlogIndex
	case strings.HasPrefix(slug, "/blog/"):
		return PageBlogPost
	case slug == "/apps":
		return PageApps
	case slug == "/projects":
		return PageProjects
	case slug == "/about":
		return PageAbout
	default:
		return PageOther
	}
}
