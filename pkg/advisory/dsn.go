package advisory

import (
	"strconv"
	"strings"
)

// buildConnString renders the keyword/value connection string in the fixed
// order host, port, dbname, user, password. Unset optional fields are left out.
func buildConnString(host string, port uint16, database string, user, password *string) string {
	parts := []string{
		"host=" + quoteConnValue(host),
		"port=" + strconv.FormatUint(uint64(port), 10),
		"dbname=" + quoteConnValue(database),
	}
	if user != nil {
		parts = append(parts, "user="+quoteConnValue(*user))
	}
	if password != nil {
		parts = append(parts, "password="+quoteConnValue(*password))
	}
	return strings.Join(parts, " ")
}

// quoteConnValue single-quotes a value when libpq keyword/value syntax requires it.
func quoteConnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, " \t\r\n'\\") {
		return v
	}

	var b strings.Builder
	b.Grow(len(v) + 2)
	b.WriteByte('\'')
	for _, r := range v {
		if r == '\'' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('\'')
	return b.String()
}
