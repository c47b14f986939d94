package handshake

import "strings"

// BuildUserinfo assembles the `\key\value\...` userinfo string sent in
// the OOB `connect` command: the consumer-supplied player name plus the
// fixed spectator field set.
func BuildUserinfo(name string) string {
	var b strings.Builder
	write := func(k, v string) {
		b.WriteByte('\\')
		b.WriteString(k)
		b.WriteByte('\\')
		b.WriteString(v)
	}
	write("name", name)
	write("skin", "male/grunt")
	write("rate", "25000")
	write("msg", "1")
	write("hand", "2")
	write("fov", "90")
	write("spectator", "1")
	return b.String()
}
