package askdelphi

import (
	"fmt"
	"regexp"
)

// Credentials identifies the tenant, project, and ACL entry that every
// content API call is scoped to, plus the one-time portal code used to
// bootstrap authentication.
type Credentials struct {
	TenantID   string
	ProjectID  string
	ACLEntryID string

	// PortalCode is consumed at most once; after a successful portal
	// exchange the cached token set takes over.
	PortalCode string
}

var cmsURLPattern = regexp.MustCompile(`(?i)/tenant/([a-f0-9-]+)/project/([a-f0-9-]+)/acl/([a-f0-9-]+)`)

// ParseCMSURL extracts the tenant, project, and ACL entry IDs from a CMS
// editor URL of the form
// https://xxx.askdelphi.com/cms/tenant/{T}/project/{P}/acl/{A}/...
func ParseCMSURL(url string) (tenantID, projectID, aclEntryID string, err error) {
	m := cmsURLPattern.FindStringSubmatch(url)
	if m == nil {
		return "", "", "", fmt.Errorf("could not parse CMS URL %q: expected .../tenant/{id}/project/{id}/acl/{id}/...", url)
	}
	return m[1], m[2], m[3], nil
}

// Validate reports an error if any of the three IDs required for API calls
// is missing. The portal code is intentionally not required here: cached
// tokens can substitute for it.
func (c *Credentials) Validate() error {
	if c.TenantID == "" {
		return fmt.Errorf("tenant ID is not set: provide a CMS URL or ASKDELPHI_TENANT_ID")
	}
	if c.ProjectID == "" {
		return fmt.Errorf("project ID is not set: provide a CMS URL or ASKDELPHI_PROJECT_ID")
	}
	if c.ACLEntryID == "" {
		return fmt.Errorf("ACL entry ID is not set: provide a CMS URL or ASKDELPHI_ACL_ENTRY_ID")
	}
	return nil
}
