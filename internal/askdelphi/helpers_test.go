package askdelphi_test

import (
	"net/http"
	"testing"
	"time"

	"adsync/internal/askdelphi"
	"adsync/internal/testutil"
	"adsync/internal/tokenstore"
)

func testCreds(portalCode string) *askdelphi.Credentials {
	return &askdelphi.Credentials{
		TenantID:   "tenant-a",
		ProjectID:  "project-b",
		ACLEntryID: "acl-c",
		PortalCode: portalCode,
	}
}

// seededStore returns a token store already holding a valid token set for
// the fake CMS, so tests skip the portal exchange entirely.
func seededStore(cms *testutil.FakeCMS) *tokenstore.MemoryStore {
	return tokenstore.Seed(&askdelphi.TokenSet{
		AccessToken:    "access-1",
		RefreshToken:   "refresh-1",
		PublicationURL: cms.URL(),
		APIToken:       cms.APIToken(),
		APITokenExpiry: time.Now().Add(time.Hour),
	})
}

// newTestClient wires a client against the fake CMS with the given store.
func newTestClient(t *testing.T, cms *testutil.FakeCMS, store askdelphi.TokenStore, creds *askdelphi.Credentials) *askdelphi.Client {
	t.Helper()

	logger := askdelphi.NewNopLogger()
	tokens := askdelphi.NewTokenManager(cms.URL(), creds, store, http.DefaultClient, askdelphi.RealClock{}, logger)
	client, err := askdelphi.NewClient(cms.URL(), creds, tokens, http.DefaultClient, logger, testutil.NewStubIDGenerator())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}
