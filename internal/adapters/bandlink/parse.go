package bandlink

import (
	"encoding/json"
	"sort"
	"strings"

	"golang.org/x/net/html"

	"smartlink-bot/internal/domain"
	"smartlink-bot/internal/usecase/links"
)

var (
	linkKeys    = []string{"href", "url", "link"}
	hintKeys    = []string{"platform", "service", "type", "id", "name"}
	listKeys    = map[string]struct{}{"services": {}, "links": {}, "platforms": {}, "buttons": {}}
	anchorHints = []string{"data-platform", "data-service", "data-provider"}
	coverWords  = []string{"cover", "image", "thumbnail", "artwork"}
)

// минимальное число ссылок из встроенных данных, после которого ссылки-якоря не смотрим
const anchorThreshold = 3

type anchor struct {
	href  string
	hint  string
	class string
}

type page struct {
	nextData string
	jsonData []string
	anchors  []anchor
	ogTitle  string
	ogImage  string
}

type collector struct {
	links   domain.Links
	artists []string
	titles  []string
	covers  []string
}

// Parse извлекает ссылки на площадки и метаданные релиза из HTML страницы BandLink.
func Parse(content string) (domain.Links, domain.MetadataBag) {
	c := &collector{links: make(domain.Links)}
	if strings.TrimSpace(content) == "" {
		return c.links, domain.MetadataBag{}
	}
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return c.links, domain.MetadataBag{}
	}
	p := &page{}
	p.visit(doc)

	if p.nextData != "" {
		var data any
		if err := json.Unmarshal([]byte(p.nextData), &data); err == nil {
			root := data
			if m, ok := data.(map[string]any); ok {
				if props, ok := m["props"].(map[string]any); ok {
					root = props
				}
			}
			c.walkRoot(root)
		}
	}
	for _, raw := range p.jsonData {
		var data any
		if err := json.Unmarshal([]byte(raw), &data); err == nil {
			c.walkRoot(data)
		}
	}

	if len(c.links) < anchorThreshold {
		for _, a := range p.anchors {
			hint := a.hint
			if hint == "" {
				hint = classHint(a.class)
			}
			c.addLink(a.href, hint)
		}
	}

	artist := first(c.artists)
	title := first(c.titles)
	cover := first(c.covers)
	if og := strings.TrimSpace(p.ogTitle); og != "" {
		if artist == "" && strings.Contains(og, " - ") {
			left, right, _ := strings.Cut(og, " - ")
			artist = strings.TrimSpace(left)
			if title == "" {
				title = strings.TrimSpace(right)
			}
		} else if title == "" {
			title = og
		}
	}
	if cover == "" {
		cover = strings.TrimSpace(p.ogImage)
	}

	var meta domain.MetadataBag
	if artist != "" || title != "" || cover != "" {
		src := domain.MetadataSource{Artist: artist, Title: title, CoverURL: cover}
		meta = domain.MetadataBag{
			Artist:    artist,
			Title:     title,
			CoverURL:  cover,
			Origin:    domain.PlatformBandlink,
			Preferred: domain.PlatformBandlink,
			Sources:   map[domain.Platform]domain.MetadataSource{domain.PlatformBandlink: src},
		}
	}
	return c.links, meta
}

func (p *page) visit(n *html.Node) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "script":
			text := nodeText(n)
			switch {
			case attr(n, "id") == "__NEXT_DATA__":
				p.nextData = text
			case strings.Contains(strings.ToLower(attr(n, "type")), "json"):
				p.jsonData = append(p.jsonData, text)
			}
		case "a":
			if href := attr(n, "href"); href != "" {
				a := anchor{href: href, class: attr(n, "class")}
				for _, key := range anchorHints {
					if v := attr(n, key); v != "" {
						a.hint = v
						break
					}
				}
				p.anchors = append(p.anchors, a)
			}
		case "meta":
			switch attr(n, "property") {
			case "og:title":
				if p.ogTitle == "" {
					p.ogTitle = attr(n, "content")
				}
			case "og:image":
				if p.ogImage == "" {
					p.ogImage = attr(n, "content")
				}
			}
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		p.visit(child)
	}
}

func (c *collector) walkRoot(node any) {
	if m, ok := node.(map[string]any); ok {
		c.service(m)
	}
	c.walk(node)
}

func (c *collector) walk(node any) {
	switch v := node.(type) {
	case map[string]any:
		for _, key := range sortedKeys(v) {
			value := v[key]
			if _, ok := listKeys[strings.ToLower(key)]; ok {
				if items, ok := value.([]any); ok {
					for _, item := range items {
						if m, ok := item.(map[string]any); ok {
							c.service(m)
						}
					}
				}
			}
			if m, ok := value.(map[string]any); ok {
				c.service(m)
			}
			c.walk(value)
		}
	case []any:
		for _, item := range v {
			c.walk(item)
		}
	}
}

// service разбирает объект, похожий на кнопку площадки или карточку релиза.
func (c *collector) service(m map[string]any) {
	link := ""
	for _, key := range linkKeys {
		if s, ok := m[key].(string); ok && s != "" {
			link = s
			break
		}
	}
	if link == "" {
		if action, ok := m["action"].(map[string]any); ok {
			link, _ = action["url"].(string)
		}
	}
	if link != "" {
		hint := ""
		for _, key := range hintKeys {
			s, _ := m[key].(string)
			if _, ok := domain.ParsePlatform(s); ok {
				hint = s
				break
			}
		}
		c.addLink(link, hint)
	}

	for _, key := range sortedKeys(m) {
		value, ok := m[key].(string)
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		lk := strings.ToLower(key)
		switch {
		case lk == "artist" || lk == "artistname" || lk == "artist_name" || strings.HasSuffix(lk, "artist"):
			c.artists = append(c.artists, value)
		case lk == "title" || lk == "track" || lk == "song" || lk == "name":
			// названия самих площадок на кнопках не считаем названием релиза
			if _, isPlatform := domain.ParsePlatform(value); isPlatform {
				continue
			}
			c.titles = append(c.titles, value)
		case containsAny(lk, coverWords) && strings.HasPrefix(value, "http"):
			c.covers = append(c.covers, value)
		}
	}
}

func (c *collector) addLink(raw, hint string) {
	normalized, platform, ok := links.Normalize(html.UnescapeString(raw), hint)
	if !ok || platform == domain.PlatformBandlink {
		return
	}
	if _, exists := c.links[platform]; exists {
		return
	}
	c.links[platform] = normalized
}

func classHint(class string) string {
	for _, token := range strings.Fields(class) {
		if _, ok := domain.ParsePlatform(token); ok {
			return token
		}
	}
	return ""
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.TextNode {
			b.WriteString(child.Data)
		}
	}
	return b.String()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
