package source

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/nsscache/nsscache-go/internal/maps"
	"github.com/nsscache/nsscache-go/internal/nsserror"
	"github.com/nsscache/nsscache-go/pkg/retry"
)

// ldapTimeLayout matches ldapsource.py's "%Y%m%d%H%M%SZ" generalized-time
// format used both for the incremental-fetch filter clause and for parsing
// modifyTimestamp attribute values back out of search results.
const ldapTimeLayout = "20060102150405Z"

// LDAPSource fetches passwd/group/shadow/netgroup entries from an LDAP
// directory, tracking modifyTimestamp for incremental refreshes. Grounded
// on nss_cache/sources/ldapsource.py's LdapSource/UpdateGetter pair.
type LDAPSource struct {
	uri           string
	bindDN        string
	bindPW        string
	base          string
	scope         int
	passwdBase    string
	groupBase     string
	shadowBase    string
	automountBase string
	retryExec     *retry.Executor
}

var (
	_ PasswdSource    = (*LDAPSource)(nil)
	_ GroupSource     = (*LDAPSource)(nil)
	_ ShadowSource    = (*LDAPSource)(nil)
	_ NetgroupSource  = (*LDAPSource)(nil)
	_ AutomountSource = (*LDAPSource)(nil)
)

func NewLDAPSource(cfg Config) (*LDAPSource, error) {
	uri := cfg.option("uri", "")
	if uri == "" {
		return nil, fmt.Errorf("%w: ldap source requires a uri", nsserror.ErrConfigurationError)
	}
	scope := ldap.ScopeWholeSubtree
	if cfg.option("scope", "sub") == "one" {
		scope = ldap.ScopeSingleLevel
	}
	return &LDAPSource{
		uri:           uri,
		bindDN:        cfg.option("bind_dn", ""),
		bindPW:        cfg.option("bind_password", ""),
		base:          cfg.option("base", ""),
		scope:         scope,
		passwdBase:    cfg.option("passwd_base", cfg.option("base", "")),
		groupBase:     cfg.option("group_base", cfg.option("base", "")),
		shadowBase:    cfg.option("shadow_base", cfg.option("base", "")),
		automountBase: cfg.option("automount_base", cfg.option("base", "")),
		retryExec:     retry.NewExecutor(retry.DefaultConfig(), nil),
	}, nil
}

// bind opens a connection and retries on transient connect failures,
// matching LdapSource.Bind's retry-on-SERVER_DOWN loop.
func (s *LDAPSource) bind(ctx context.Context) (*ldap.Conn, error) {
	var conn *ldap.Conn
	err := s.retryExec.Execute(ctx, "ldap bind", retry.AlwaysRetryable, func(ctx context.Context) error {
		c, err := ldap.DialURL(s.uri)
		if err != nil {
			return err
		}
		if s.bindDN != "" {
			if err := c.Bind(s.bindDN, s.bindPW); err != nil {
				c.Close()
				return err
			}
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", nsserror.ErrSourceUnavailable, err)
	}
	return conn, nil
}

// sinceFilter appends the incremental modifyTimestamp clause to filter,
// matching UpdateGetter.GetUpdates's "(modifyTimestamp>=<since+1s>)" clause.
// A zero since means a full fetch; no clause is added.
func sinceFilter(filter string, since time.Time) string {
	if since.IsZero() {
		return filter
	}
	cursor := since.Add(time.Second).UTC().Format(ldapTimeLayout)
	return fmt.Sprintf("(&%s(modifyTimestamp>=%s))", filter, cursor)
}

func (s *LDAPSource) search(ctx context.Context, base, filter string, attrs []string) ([]*ldap.Entry, error) {
	conn, err := s.bind(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	req := ldap.NewSearchRequest(base, s.scope, ldap.NeverDerefAliases, 0, 0, false, filter, attrs, nil)
	res, err := conn.SearchWithPaging(req, 1000)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", nsserror.ErrSourceUnavailable, err)
	}
	return res.Entries, nil
}

func attrOr(e *ldap.Entry, name, def string) string {
	if v := e.GetAttributeValue(name); v != "" {
		return v
	}
	return def
}

func maxModifyTimestamp(entries []*ldap.Entry, floor time.Time) time.Time {
	max := floor
	for _, e := range entries {
		ts := e.GetAttributeValue("modifyTimestamp")
		if ts == "" {
			continue
		}
		t, err := time.Parse(ldapTimeLayout, ts)
		if err != nil {
			continue
		}
		if t.After(max) {
			max = t
		}
	}
	return max
}

// GetPasswdMap fetches posixAccount entries, matching
// ldapsource.py PasswdUpdateGetter.Transform's attribute mapping:
// uid -> name, uidNumber, gidNumber, gecos-or-cn, homeDirectory,
// loginShell (default empty).
func (s *LDAPSource) GetPasswdMap(ctx context.Context, since time.Time) (*maps.Map[*maps.PasswdEntry], error) {
	filter := sinceFilter("(objectClass=posixAccount)", since)
	entries, err := s.search(ctx, s.passwdBase, filter,
		[]string{"uid", "uidNumber", "gidNumber", "gecos", "cn", "homeDirectory", "loginShell", "modifyTimestamp"})
	if err != nil {
		return nil, err
	}

	m := maps.NewMap[*maps.PasswdEntry]()
	for _, e := range entries {
		uid, err := strconv.Atoi(e.GetAttributeValue("uidNumber"))
		if err != nil {
			continue
		}
		gid, err := strconv.Atoi(e.GetAttributeValue("gidNumber"))
		if err != nil {
			continue
		}
		pe := &maps.PasswdEntry{
			Name:   e.GetAttributeValue("uid"),
			Passwd: "x",
			UID:    uid,
			GID:    gid,
			GECOS:  attrOr(e, "gecos", e.GetAttributeValue("cn")),
			Dir:    e.GetAttributeValue("homeDirectory"),
			Shell:  attrOr(e, "loginShell", ""),
		}
		if err := m.Add(pe); err != nil {
			return nil, fmt.Errorf("%w: %v", nsserror.ErrInvalidMap, err)
		}
	}
	m.SetModifyTimestamp(maxModifyTimestamp(entries, since))
	m.SetUpdateTimestamp(time.Now().UTC())
	return m, nil
}

// GetGroupMap fetches posixGroup entries.
func (s *LDAPSource) GetGroupMap(ctx context.Context, since time.Time) (*maps.Map[*maps.GroupEntry], error) {
	filter := sinceFilter("(objectClass=posixGroup)", since)
	entries, err := s.search(ctx, s.groupBase, filter,
		[]string{"cn", "gidNumber", "memberUid", "modifyTimestamp"})
	if err != nil {
		return nil, err
	}

	m := maps.NewMap[*maps.GroupEntry]()
	for _, e := range entries {
		gid, err := strconv.Atoi(e.GetAttributeValue("gidNumber"))
		if err != nil {
			continue
		}
		members := e.GetAttributeValues("memberUid")
		sort.Strings(members)
		ge := &maps.GroupEntry{
			Name:    e.GetAttributeValue("cn"),
			Passwd:  "x",
			GID:     gid,
			Members: members,
		}
		if err := m.Add(ge); err != nil {
			return nil, fmt.Errorf("%w: %v", nsserror.ErrInvalidMap, err)
		}
	}
	m.SetModifyTimestamp(maxModifyTimestamp(entries, since))
	m.SetUpdateTimestamp(time.Now().UTC())
	return m, nil
}

// cryptPrefix marks a userPassword value as already in crypt(3) format.
// Anything else (SSHA, plaintext, absent) is not a hash nss_cache can put
// in a shadow(5) passwd field, so it falls back to the default instead.
const cryptPrefix = "{CRYPT}"

// shadowPasswd extracts the crypt(3) hash out of a userPassword value,
// matching ShadowUpdateGetter.Transform: a "{CRYPT}"-prefixed value has the
// prefix stripped, anything else yields the default.
func shadowPasswd(userPassword string) string {
	if strings.HasPrefix(userPassword, cryptPrefix) {
		return strings.TrimPrefix(userPassword, cryptPrefix)
	}
	return "!!"
}

// GetShadowMap fetches shadowAccount entries. Passwd defaults to "!!" for
// entries with no shadow credential, matching ShadowMapEntry's default.
func (s *LDAPSource) GetShadowMap(ctx context.Context, since time.Time) (*maps.Map[*maps.ShadowEntry], error) {
	filter := sinceFilter("(objectClass=shadowAccount)", since)
	entries, err := s.search(ctx, s.shadowBase, filter,
		[]string{"uid", "userPassword", "shadowLastChange", "shadowMin", "shadowMax",
			"shadowWarning", "shadowInactive", "shadowExpire", "shadowFlag", "modifyTimestamp"})
	if err != nil {
		return nil, err
	}

	m := maps.NewMap[*maps.ShadowEntry]()
	for _, e := range entries {
		flag := parseOptionalInt(e.GetAttributeValue("shadowFlag"))
		if flag == nil {
			flag = new(int)
		}
		se := &maps.ShadowEntry{
			Name:   e.GetAttributeValue("uid"),
			Passwd: shadowPasswd(e.GetAttributeValue("userPassword")),
			Lstchg: parseOptionalInt(e.GetAttributeValue("shadowLastChange")),
			Min:    parseOptionalInt(e.GetAttributeValue("shadowMin")),
			Max:    parseOptionalInt(e.GetAttributeValue("shadowMax")),
			Warn:   parseOptionalInt(e.GetAttributeValue("shadowWarning")),
			Inact:  parseOptionalInt(e.GetAttributeValue("shadowInactive")),
			Expire: parseOptionalInt(e.GetAttributeValue("shadowExpire")),
			Flag:   flag,
		}
		if err := m.Add(se); err != nil {
			return nil, fmt.Errorf("%w: %v", nsserror.ErrInvalidMap, err)
		}
	}
	m.SetModifyTimestamp(maxModifyTimestamp(entries, since))
	m.SetUpdateTimestamp(time.Now().UTC())
	return m, nil
}

// GetNetgroupMap fetches nisNetgroup entries, reconstructing the
// space-separated triple list from nisNetgroupTriple/memberNisNetgroup
// attributes.
func (s *LDAPSource) GetNetgroupMap(ctx context.Context, since time.Time) (*maps.Map[*maps.NetgroupEntry], error) {
	filter := sinceFilter("(objectClass=nisNetgroup)", since)
	entries, err := s.search(ctx, s.base, filter,
		[]string{"cn", "nisNetgroupTriple", "memberNisNetgroup", "modifyTimestamp"})
	if err != nil {
		return nil, err
	}

	m := maps.NewMap[*maps.NetgroupEntry]()
	for _, e := range entries {
		fields := append(e.GetAttributeValues("nisNetgroupTriple"), e.GetAttributeValues("memberNisNetgroup")...)
		ne := &maps.NetgroupEntry{
			Name:    e.GetAttributeValue("cn"),
			Entries: joinSpace(fields),
		}
		if err := m.Add(ne); err != nil {
			return nil, fmt.Errorf("%w: %v", nsserror.ErrInvalidMap, err)
		}
	}
	m.SetModifyTimestamp(maxModifyTimestamp(entries, since))
	m.SetUpdateTimestamp(time.Now().UTC())
	return m, nil
}

// GetAutomountMasterMap fetches automountMap entries directly under
// automountBase, one per mountpoint, matching ldapsource.py's
// AutomountUpdateGetter against the RFC 2307 automountMap/automount
// schema: each ou=<mountpoint>,automountBase subtree holds that
// mountpoint's own submap.
func (s *LDAPSource) GetAutomountMasterMap(ctx context.Context) (*maps.Map[*maps.AutomountEntry], error) {
	entries, err := s.search(ctx, s.automountBase, "(objectClass=automountMap)", []string{"ou"})
	if err != nil {
		return nil, err
	}

	m := maps.NewMap[*maps.AutomountEntry]()
	for _, e := range entries {
		mountpoint := e.GetAttributeValue("ou")
		if mountpoint == "" {
			continue
		}
		ae := &maps.AutomountEntry{
			KeyName:  "/" + mountpoint,
			Location: fmt.Sprintf("ldap:ou=%s,%s", mountpoint, s.automountBase),
		}
		if err := m.Add(ae); err != nil {
			return nil, fmt.Errorf("%w: %v", nsserror.ErrInvalidMap, err)
		}
	}
	m.SetUpdateTimestamp(time.Now().UTC())
	return m, nil
}

// GetAutomountMap fetches one mountpoint's automount entries, keyed by
// automountKey with automountInformation as the location/options string.
func (s *LDAPSource) GetAutomountMap(ctx context.Context, mountpoint string, since time.Time) (*maps.Map[*maps.AutomountEntry], error) {
	base := fmt.Sprintf("ou=%s,%s", strings.TrimPrefix(mountpoint, "/"), s.automountBase)
	filter := sinceFilter("(objectClass=automount)", since)
	entries, err := s.search(ctx, base, filter, []string{"automountKey", "automountInformation", "modifyTimestamp"})
	if err != nil {
		return nil, err
	}

	m := maps.NewMap[*maps.AutomountEntry]()
	for _, e := range entries {
		info := e.GetAttributeValue("automountInformation")
		location := info
		options := ""
		if idx := strings.IndexByte(info, ' '); idx >= 0 && strings.HasPrefix(info, "-") {
			options = info[:idx]
			location = info[idx+1:]
		}
		ae := &maps.AutomountEntry{
			KeyName:  e.GetAttributeValue("automountKey"),
			Location: location,
			Options:  options,
		}
		if err := m.Add(ae); err != nil {
			return nil, fmt.Errorf("%w: %v", nsserror.ErrInvalidMap, err)
		}
	}
	m.SetModifyTimestamp(maxModifyTimestamp(entries, since))
	m.SetUpdateTimestamp(time.Now().UTC())
	return m, nil
}

func parseOptionalInt(s string) *int {
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}

func joinSpace(fields []string) string {
	out := ""
	for i, f := range fields {
		if i > 0 {
			out += " "
		}
		out += f
	}
	return out
}
