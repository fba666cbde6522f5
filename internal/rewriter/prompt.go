package rewriter

import (
	"fmt"
	"html"
	"strings"

	"genpipe/internal/config"
	"genpipe/internal/models"
)

// WriterPrompt is the brand-voice system prompt for post generation.
func WriterPrompt(b config.BusinessConfig) string {
	return fmt.Sprintf(`You are a Content Writer for %s. You create professional, engaging blog posts that establish thought leadership.

## Content Principles
- Bold and authoritative without arrogance
- Execution-driven over empty promises
- Results-focused and performance-oriented
- Strategic insights with tactical clarity

## Writing Style
- Professional and authoritative
- Clear, concise language
- Actionable insights
- Focus on sales, AI, and business growth topics

## Content Structure
- Strong opening hook
- Clear sections with logical flow
- Practical takeaways
- Professional conclusion

IMPORTANT: Create original content that provides value. Do not simply summarize - add strategic insights and connect to business outcomes.`, b.Name)
}

// ArticlePrompt asks for a post in the labelled TITLE / EXCERPT / CATEGORY / CONTENT layout.
func ArticlePrompt(a models.Article, body string, categories []string) string {
	return fmt.Sprintf(`Create a professional blog post based on this news article:

ARTICLE TITLE: %s
ARTICLE SOURCE: %s
ARTICLE CONTENT: %s

INSTRUCTIONS:
1. Create an engaging, original blog post (600-800 words)
2. Add strategic insights relevant to sales leaders and business executives
3. Connect the topic to AI, sales automation, or business growth
4. Include practical takeaways
5. Write in a professional, authoritative tone

FORMAT YOUR RESPONSE EXACTLY LIKE THIS:

TITLE: [A compelling, SEO-friendly title - different from the original]

EXCERPT: [A 2-3 sentence summary that hooks the reader]

CATEGORY: [One of: %s]

CONTENT:
[Your full blog post using HTML tags: <p> for every paragraph, <h2> for main sections, <h3> for sub-headings, <ul> and <li> for lists, <strong> for bold text]`,
		a.Title, a.Source, body, strings.Join(categories, ", "))
}

// FallbackPost is the templated post published when no provider produced usable output.
func FallbackPost(a models.Article, b config.BusinessConfig, category string) models.GeneratedPost {
	description := html.EscapeString(strings.TrimSpace(a.Description))
	source := html.EscapeString(a.Source)

	content := strings.Join([]string{
		fmt.Sprintf("<p>The latest developments in the industry continue to shape how businesses approach sales and technology integration. This recent news from %s highlights important trends that forward-thinking leaders need to understand.</p>", source),
		"<h2>Key Highlights</h2>",
		fmt.Sprintf("<p>%s</p>", description),
		"<h2>What This Means for Business Leaders</h2>",
		"<p>In today's rapidly evolving business landscape, staying ahead of industry trends is crucial for maintaining competitive advantage. This development underscores the importance of:</p>",
		"<ul>",
		"<li>Embracing technological innovation in sales processes</li>",
		"<li>Adapting strategies to meet changing market demands</li>",
		"<li>Investing in team development and training</li>",
		"<li>Building resilient, scalable operations</li>",
		"</ul>",
		"<h2>Strategic Takeaways</h2>",
		fmt.Sprintf("<p>At %s, we believe in the power of combining human expertise with advanced technology. As the industry continues to evolve, organizations that prioritize both innovation and execution will emerge as leaders in their respective markets.</p>", html.EscapeString(b.Name)),
		"<p>Stay tuned for more insights on how AI and sales excellence are transforming businesses.</p>",
	}, "\n")
	if description == "" {
		content = strings.Replace(content, "<h2>Key Highlights</h2>\n<p></p>\n", "", 1)
	}

	return models.GeneratedPost{
		Title:    "Industry Update: " + strings.TrimSpace(a.Title),
		Excerpt:  excerptOf(a.Description),
		Category: category,
		Content:  content,
	}
}
