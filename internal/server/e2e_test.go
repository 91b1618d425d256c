package server_test

import (
	"context"
	"io"
	"net/http"
	"net/url"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rjsadow/contestgate/internal/auth/authtest"
	"github.com/rjsadow/contestgate/internal/db"
	"github.com/rjsadow/contestgate/internal/passwd"
)

func body(resp *http.Response) string {
	b, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return string(b)
}

var _ = Describe("Password login", func() {
	var env *environment

	BeforeEach(func() {
		env = startServer("password")
		ctx := context.Background()

		contest, err := env.database.UpsertContest(ctx, db.Contest{Name: "ioi", AllowPasswordAuthentication: true})
		Expect(err).NotTo(HaveOccurred())
		encoded, err := passwd.Hash("secret")
		Expect(err).NotTo(HaveOccurred())
		bob, err := env.database.CreateUser(ctx, db.User{Username: "bob", FirstName: "Bob", Password: encoded})
		Expect(err).NotTo(HaveOccurred())
		_, err = env.database.UpsertParticipation(ctx, db.Participation{ContestID: contest.ID, UserID: bob.ID})
		Expect(err).NotTo(HaveOccurred())
	})

	It("logs in and lands on the requested page", func() {
		resp := env.get("/ioi/")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body(resp)).To(ContainSubstring(`action="/ioi/login"`))

		resp = env.postForm("/ioi/login", url.Values{
			"username": {"bob"},
			"password": {"secret"},
			"next":     {"/ioi/tasks"},
		})
		Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))
		Expect(resp.Header.Get("Location")).To(Equal("/ioi/tasks"))
		Expect(env.sessionCookie("ioi")).NotTo(BeEmpty())

		resp = env.get("/ioi/")
		Expect(body(resp)).To(ContainSubstring("Logged in as <strong>bob</strong>"))
	})

	It("rejects a wrong password without touching any account", func() {
		resp := env.postForm("/ioi/login", url.Values{"username": {"bob"}, "password": {"wrong"}})
		Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))
		Expect(resp.Header.Get("Location")).To(Equal("/ioi/?login_error=true"))
		Expect(env.sessionCookie("ioi")).To(BeEmpty())

		contest, err := env.database.GetContestByName(context.Background(), "ioi")
		Expect(err).NotTo(HaveOccurred())
		parts, err := env.database.ListParticipations(context.Background(), contest.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(parts).To(HaveLen(1))

		resp = env.get("/ioi/?login_error=true")
		Expect(body(resp)).To(ContainSubstring("Failed to log in."))
	})

	It("drops the session on logout", func() {
		env.postForm("/ioi/login", url.Values{"username": {"bob"}, "password": {"secret"}})
		Expect(env.sessionCookie("ioi")).NotTo(BeEmpty())

		resp := env.postForm("/ioi/logout", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))
		Expect(env.sessionCookie("ioi")).To(BeEmpty())

		resp = env.get("/ioi/")
		Expect(body(resp)).To(ContainSubstring(`action="/ioi/login"`))
	})
})

var _ = Describe("OpenID Connect login", func() {
	var (
		env *environment
		idp *authtest.IdP
	)

	BeforeEach(func() {
		env = startServer("openidconnect")
		idp = authtest.New(GinkgoT())
		_, err := env.database.UpsertContest(context.Background(), db.Contest{
			Name:              "ioi",
			OpenIDConnectInfo: idp.ProviderConfig(GinkgoT()),
		})
		Expect(err).NotTo(HaveOccurred())
	})

	// startFlow follows the login link up to the provider and returns the
	// state and nonce it was handed.
	startFlow := func(next string) (state, nonce string) {
		path := "/ioi/oic_login"
		if next != "" {
			path += "?next=" + url.QueryEscape(next)
		}
		resp := env.get(path)
		Expect(resp.StatusCode).To(Equal(http.StatusFound))
		loc, err := url.Parse(resp.Header.Get("Location"))
		Expect(err).NotTo(HaveOccurred())
		Expect(loc.String()).To(HavePrefix(idp.AuthorizationEndpoint()))
		Expect(loc.Query().Get("redirect_uri")).To(Equal(env.server.URL + "/ioi/oic_login"))
		return loc.Query().Get("state"), loc.Query().Get("nonce")
	}

	It("provisions a first-time user and logs them in", func() {
		state, nonce := startFlow("/ioi/tasks")
		idp.Grant("abc", authtest.Identity{
			Subject:    "u123",
			GivenName:  "Ana",
			FamilyName: "Lee",
			Email:      "ana@example.com",
			Nonce:      nonce,
		})

		resp := env.get("/ioi/oic_login?code=abc&state=" + url.QueryEscape(state))
		Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))
		Expect(resp.Header.Get("Location")).To(Equal("/ioi/tasks"))
		Expect(env.sessionCookie("ioi")).NotTo(BeEmpty())

		user, err := env.database.GetUserByUsername(context.Background(), "u123")
		Expect(err).NotTo(HaveOccurred())
		Expect(user).NotTo(BeNil())
		Expect(user.FirstName).To(Equal("Ana"))
		Expect(user.LastName).To(Equal("Lee"))
		Expect(user.AuthSource).To(Equal(db.AuthSourceOIDC))

		resp = env.get("/ioi/")
		page := body(resp)
		Expect(page).To(ContainSubstring("u123"))
		Expect(page).To(ContainSubstring("via OpenIDConnect"))
	})

	It("rejects a forged state before contacting the provider", func() {
		_, nonce := startFlow("")
		idp.Grant("abc", authtest.Identity{Subject: "u123", Nonce: nonce})

		resp := env.get("/ioi/oic_login?code=abc&state=forged")
		Expect(resp.Header.Get("Location")).To(Equal("/ioi/?login_error=true"))
		Expect(idp.TokenCalls()).To(BeZero())
		Expect(env.sessionCookie("ioi")).To(BeEmpty())
	})

	It("rejects an ID token carrying another nonce", func() {
		state, _ := startFlow("")
		idp.Grant("abc", authtest.Identity{Subject: "u123", Nonce: "someone-elses"})

		resp := env.get("/ioi/oic_login?code=abc&state=" + url.QueryEscape(state))
		Expect(resp.Header.Get("Location")).To(Equal("/ioi/?login_error=true"))
		Expect(idp.TokenCalls()).To(Equal(1))

		user, err := env.database.GetUserByUsername(context.Background(), "u123")
		Expect(err).NotTo(HaveOccurred())
		Expect(user).To(BeNil())
	})

	It("does not accept the same callback twice", func() {
		state, nonce := startFlow("")
		idp.Grant("abc", authtest.Identity{Subject: "u123", Nonce: nonce})
		env.get("/ioi/oic_login?code=abc&state=" + url.QueryEscape(state))
		Expect(env.sessionCookie("ioi")).NotTo(BeEmpty())

		// The flow cookie is gone from the browser; replaying the callback
		// from a fresh browser without it fails as well.
		idp.Grant("def", authtest.Identity{Subject: "u123", Nonce: nonce})
		env.client = newBrowser()
		resp := env.get("/ioi/oic_login?code=def&state=" + url.QueryEscape(state))
		Expect(resp.Header.Get("Location")).To(Equal("/ioi/?login_error=true"))
		Expect(idp.TokenCalls()).To(Equal(1))
	})
})
