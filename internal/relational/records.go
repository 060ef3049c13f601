// Package relational is the relational data layer: user memory, curated
// information, daily tasks, career goals and the chat analytics table.
package relational

import (
	"fmt"
	"strings"
	"time"
)

// blockSeparator joins formatted records inside one text block.
const blockSeparator = "\n---\n"

// maxInformationBody bounds the article body quoted in a block.
const maxInformationBody = 1000

// Memory is one remembered fact about a user.
type Memory struct {
	ID        string
	Category  string
	Content   string
	UpdatedAt time.Time
}

// Information is a curated article collected for a user.
type Information struct {
	ID             string
	Title          string
	Body           string
	URL            string
	RecommendLevel int
	Category       string
	CreatedAt      time.Time
}

// Task is a daily quest.
type Task struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Recommend     string    `json:"recommend"`
	Category      string    `json:"category"`
	EstimatedTime int       `json:"estimated_time"`
	Completed     bool      `json:"completed"`
	CreatedAt     time.Time `json:"created_at"`
}

// CareerGoal is a user's career objective.
type CareerGoal struct {
	ID           string
	Title        string
	Description  string
	TargetPeriod string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FormatMemory renders memories as the preferences block.
func FormatMemory(items []Memory, loc *time.Location) string {
	blocks := make([]string, 0, len(items))
	for _, m := range items {
		blocks = append(blocks, fmt.Sprintf("# ID: %s\n## Category: %s\n## Content: %s\n## Updated: %s\n",
			m.ID, m.Category, m.Content, m.UpdatedAt.In(loc).Format("2006-01-02")))
	}
	return strings.Join(blocks, blockSeparator)
}

// FormatInformation renders curated items as a theme block.
func FormatInformation(items []Information, loc *time.Location) string {
	blocks := make([]string, 0, len(items))
	for _, it := range items {
		body := it.Body
		if r := []rune(body); len(r) > maxInformationBody {
			body = string(r[:maxInformationBody]) + "..."
		}
		blocks = append(blocks, fmt.Sprintf("# %s\n- URL: %s\n- Recommend level (1-5): %d\n- Category: %s\n- Collected: %s\n- Body: %s\n",
			it.Title, it.URL, it.RecommendLevel, it.Category, it.CreatedAt.In(loc).Format("2006-01-02 15:04"), body))
	}
	return "# Today's recommended events\n" + strings.Join(blocks, blockSeparator)
}

// FormatTasks renders tasks as a theme block.
func FormatTasks(items []Task) string {
	blocks := make([]string, 0, len(items))
	for _, t := range items {
		blocks = append(blocks, fmt.Sprintf("# %s\n- Description: %s\n- Recommend level (1-5): %s\n- Estimated time: %d\n- Completed: %t\n",
			t.Title, t.Description, t.Recommend, t.EstimatedTime, t.Completed))
	}
	return "# Today's daily quests\n" + strings.Join(blocks, blockSeparator)
}

// FormatCareer renders career goals.
func FormatCareer(items []CareerGoal, loc *time.Location) string {
	blocks := make([]string, 0, len(items))
	for _, g := range items {
		blocks = append(blocks, fmt.Sprintf("# ID: %s\n## Title: %s\n## Goal: %s\n## Target period: %s\n## Created: %s\n## Updated: %s\n",
			g.ID, g.Title, g.Description, g.TargetPeriod,
			g.CreatedAt.In(loc).Format("2006-01-02"), g.UpdatedAt.In(loc).Format("2006-01-02")))
	}
	return strings.Join(blocks, blockSeparator)
}

// startOfYesterday returns local midnight of the previous day.
func startOfYesterday(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()-1, 0, 0, 0, 0, loc)
}
