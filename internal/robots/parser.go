package robots

import (
	"strconv"
	"strings"
	"time"
)

// Parse parses robots.txt content into a Policy. The parser tolerates
// the usual field-name variants and comments and never fails: malformed
// lines are skipped.
func Parse(content string) *Policy {
	policy := &Policy{}
	var current *Group
	// Consecutive User-agent lines share the group that follows them.
	agentRun := false

	for _, line := range strings.Split(content, "\n") {
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		field, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		field = strings.ToLower(strings.TrimSpace(field))
		value = strings.TrimSpace(value)

		switch field {
		case "user-agent", "useragent":
			agent := strings.ToLower(value)
			if agent == "" {
				continue
			}
			if current == nil || !agentRun {
				policy.Groups = append(policy.Groups, Group{})
				current = &policy.Groups[len(policy.Groups)-1]
			}
			current.Agents = append(current.Agents, agent)
			agentRun = true

		case "allow", "disallow":
			if current == nil {
				continue
			}
			agentRun = false
			current.Rules = append(current.Rules, Rule{
				Path:  value,
				Allow: field == "allow",
			})

		case "crawl-delay", "crawldelay":
			agentRun = false
			secs, err := strconv.ParseFloat(value, 64)
			if err != nil || secs < 0 {
				continue
			}
			d := time.Duration(secs * float64(time.Second))
			if current != nil {
				current.CrawlDelay = d
				current.hasDelay = true
			} else {
				policy.CrawlDelay = d
			}

		case "sitemap":
			agentRun = false
			if value != "" {
				policy.Sitemaps = append(policy.Sitemaps, value)
			}

		default:
			agentRun = false
		}
	}
	return policy
}
