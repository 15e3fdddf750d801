/*
Package dns resolves hook hosts to addresses.

Resolver.ToIPs is used when a hook registers itself after binding and when
a discovery query filters by host. Literal addresses pass straight through.
Hostnames go to the DNS servers named in Config.Servers through
github.com/miekg/dns, or to the system resolver when none are configured.
Names the servers do not know, such as localhost, fall back to the system
resolver and so to the hosts file. Answers are cached in an expirable LRU.

An empty answer is always an error. Resolution problems are returned to the
caller; nothing here panics.

HostMatches holds the host comparison rule used by discovery: an exact
address match, or a server bound to the wildcard address when the query
asked for a loopback or wildcard address.
*/
package dns
