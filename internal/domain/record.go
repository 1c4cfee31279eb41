package domain

// Record is the typed view of an Unpaywall DOI object.
// Fields not needed by the client are left to the generic JSON view.
type Record struct {
	DOI               string       `json:"doi"`
	DOIURL            string       `json:"doi_url,omitempty"`
	Title             string       `json:"title,omitempty"`
	Genre             string       `json:"genre,omitempty"`
	IsOA              bool         `json:"is_oa"`
	OAStatus          string       `json:"oa_status,omitempty"`
	JournalName       string       `json:"journal_name,omitempty"`
	JournalIsOA       bool         `json:"journal_is_oa"`
	Publisher         string       `json:"publisher,omitempty"`
	PublishedDate     string       `json:"published_date,omitempty"`
	Year              int          `json:"year,omitempty"`
	HasRepositoryCopy bool         `json:"has_repository_copy"`
	BestOALocation    *OALocation  `json:"best_oa_location,omitempty"`
	FirstOALocation   *OALocation  `json:"first_oa_location,omitempty"`
	OALocations       []OALocation `json:"oa_locations,omitempty"`
	Authors           []Author     `json:"z_authors,omitempty"`
	Updated           string       `json:"updated,omitempty"`
}

// OALocation describes one place a full-text copy of a document can be found.
type OALocation struct {
	URL                   string `json:"url,omitempty"`
	URLForPDF             string `json:"url_for_pdf,omitempty"`
	URLForLandingPage     string `json:"url_for_landing_page,omitempty"`
	Evidence              string `json:"evidence,omitempty"`
	License               string `json:"license,omitempty"`
	Version               string `json:"version,omitempty"`
	HostType              string `json:"host_type,omitempty"`
	IsBest                bool   `json:"is_best"`
	PMHID                 string `json:"pmh_id,omitempty"`
	EndpointID            string `json:"endpoint_id,omitempty"`
	RepositoryInstitution string `json:"repository_institution,omitempty"`
	OADate                string `json:"oa_date,omitempty"`
	Updated               string `json:"updated,omitempty"`
}

// Author is an entry of the z_authors list.
type Author struct {
	Given              string `json:"given,omitempty"`
	Family             string `json:"family,omitempty"`
	Sequence           string `json:"sequence,omitempty"`
	ORCID              string `json:"ORCID,omitempty"`
	AuthenticatedORCID bool   `json:"authenticated-orcid,omitempty"`
}

// PDFLink returns the best open-access PDF URL, or "" if there is none.
func (r *Record) PDFLink() string {
	if r == nil || r.BestOALocation == nil {
		return ""
	}
	return r.BestOALocation.URLForPDF
}

// DocLink returns the best open-access landing page URL, or "" if there is none.
func (r *Record) DocLink() string {
	if r == nil || r.BestOALocation == nil {
		return ""
	}
	return r.BestOALocation.URL
}

// AllLinks returns the doc link and the PDF link, de-duplicated in that order.
func (r *Record) AllLinks() []string {
	links := make([]string, 0, 2)
	seen := make(map[string]struct{}, 2)
	for _, l := range []string{r.DocLink(), r.PDFLink()} {
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		links = append(links, l)
	}
	return links
}
