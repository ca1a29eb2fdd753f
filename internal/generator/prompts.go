package generator

import "fmt"

// ロードマップ生成時に要求するモジュール数と1モジュールあたりの見出し数。
const (
	RoadmapModules           = 2
	RoadmapHeadingsPerModule = 2
)

func roadmapPrompt(topic string) string {
	return fmt.Sprintf(`Generate a full course roadmap for %s. Provide the output in JSON format, including the course title, a list of modules, and the headings under each module. Generate %d modules and %d headings for each module.
The structure should be as follows:
{
  "id": "the title in lowercase with spaces replaced by -",
  "title": "Course Title",
  "description": "One or two lines describing the course.",
  "modules": [
    {
      "moduleTitle": "Module 1 Title",
      "headings": ["Heading 1", "Heading 2"]
    },
    {
      "moduleTitle": "Module 2 Title",
      "headings": ["Heading 1", "Heading 2"]
    }
  ]
}`, topic, RoadmapModules, RoadmapHeadingsPerModule)
}

func headingPrompt(heading string) string {
	return fmt.Sprintf("Give me full information on %s with as much detail as possible without using copyrighted material.", heading)
}

func quizPrompt(topic string) string {
	return fmt.Sprintf(`Generate a quiz on %s of 10 multiple choice questions.
Generate the output as a JSON array where every element has the structure:
{
  "question": "The question text",
  "options": ["option A", "option B", "option C", "option D"],
  "correct": "The text of the correct option"
}`, topic)
}
