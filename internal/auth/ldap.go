package auth

import (
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"

	"dodns/internal/config"
)

// LDAPIdentity is a directory user who passed the bind check.
type LDAPIdentity struct {
	Username string
	DN       string
	Groups   []string
}

type LDAPClient struct {
	cfg config.LDAPConfig
}

func NewLDAPClient(cfg config.LDAPConfig) *LDAPClient {
	return &LDAPClient{cfg: cfg}
}

// Authenticate binds with the service account to find the user, then binds
// as the user to check the password.
func (lc *LDAPClient) Authenticate(username, password string) (*LDAPIdentity, error) {
	if username == "" || password == "" {
		// An empty password would be an unauthenticated bind, which many
		// servers accept.
		return nil, fmt.Errorf("ldap: username and password are required")
	}

	conn, err := lc.connect()
	if err != nil {
		return nil, fmt.Errorf("ldap connect: %w", err)
	}
	defer conn.Close()

	if err := conn.Bind(lc.cfg.BindDN, lc.cfg.BindPassword); err != nil {
		return nil, fmt.Errorf("ldap service bind: %w", err)
	}

	result, err := conn.Search(ldap.NewSearchRequest(
		lc.cfg.BaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 30, false,
		fmt.Sprintf(lc.cfg.UserFilter, ldap.EscapeFilter(username)),
		[]string{"dn", lc.cfg.UsernameAttr, "memberOf"},
		nil,
	))
	if err != nil {
		return nil, fmt.Errorf("ldap search: %w", err)
	}
	if len(result.Entries) != 1 {
		return nil, fmt.Errorf("ldap: user not found or ambiguous: %d results", len(result.Entries))
	}
	entry := result.Entries[0]

	if err := conn.Bind(entry.DN, password); err != nil {
		return nil, fmt.Errorf("ldap user bind: %w", err)
	}

	id := &LDAPIdentity{
		Username: entry.GetAttributeValue(lc.cfg.UsernameAttr),
		DN:       entry.DN,
		Groups:   entry.GetAttributeValues("memberOf"),
	}
	if id.Username == "" {
		id.Username = username
	}
	if len(id.Groups) == 0 {
		id.Groups = lc.searchGroups(conn, id)
	}
	return id, nil
}

// searchGroups looks up groups listing the user as a member, for servers
// without memberOf. In the filter %s is the user DN and %u the login name.
func (lc *LDAPClient) searchGroups(conn *ldap.Conn, id *LDAPIdentity) []string {
	filter := groupFilter(lc.cfg.GroupFilter, id.DN, id.Username)
	result, err := conn.Search(ldap.NewSearchRequest(
		lc.cfg.BaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		filter,
		[]string{"dn"},
		nil,
	))
	if err != nil {
		return nil
	}
	groups := make([]string, 0, len(result.Entries))
	for _, ge := range result.Entries {
		groups = append(groups, ge.DN)
	}
	return groups
}

// Allowed reports whether groups include the configured allowed group.
func (lc *LDAPClient) Allowed(groups []string) bool {
	for _, g := range groups {
		if strings.EqualFold(g, lc.cfg.AllowedGroup) {
			return true
		}
	}
	return false
}

func groupFilter(tmpl, userDN, login string) string {
	if tmpl == "" {
		tmpl = "(|(member=%s)(uniqueMember=%s))"
	}
	f := strings.ReplaceAll(tmpl, "%s", ldap.EscapeFilter(userDN))
	return strings.ReplaceAll(f, "%u", ldap.EscapeFilter(login))
}

func (lc *LDAPClient) connect() (*ldap.Conn, error) {
	tlsCfg := &tls.Config{InsecureSkipVerify: lc.cfg.SkipVerify}

	if strings.HasPrefix(lc.cfg.URL, "ldaps://") {
		return ldap.DialURL(lc.cfg.URL, ldap.DialWithTLSConfig(tlsCfg))
	}

	conn, err := ldap.DialURL(lc.cfg.URL)
	if err != nil {
		return nil, err
	}
	if lc.cfg.StartTLS {
		if err := conn.StartTLS(tlsCfg); err != nil {
			conn.Close()
			return nil, fmt.Errorf("starttls: %w", err)
		}
	}
	return conn, nil
}
