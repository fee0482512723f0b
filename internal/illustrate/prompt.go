package illustrate

import (
	"bytes"
	_ "embed"
	"text/template"
)

//go:embed prompts/system.tmpl
var systemPrompt string

//go:embed prompts/scene.tmpl
var scenePromptTmpl string

var sceneTemplate = template.Must(template.New("scene").Parse(scenePromptTmpl))

// StyleSuffix is appended to every scene description to form the image prompt.
const StyleSuffix = " in the style of a children's book illustration"

// SystemPrompt returns the system prompt for scene summaries.
func SystemPrompt() string {
	return systemPrompt
}

// ScenePrompt builds the user prompt asking for a description of the last
// of numPages pages of story.
func ScenePrompt(story string, numPages int) string {
	var buf bytes.Buffer
	data := struct {
		Story    string
		NumPages int
	}{Story: story, NumPages: numPages}
	if err := sceneTemplate.Execute(&buf, data); err != nil {
		return scenePromptTmpl
	}
	return buf.String()
}

// ImagePrompt turns a scene description into an image prompt.
func ImagePrompt(description string) string {
	return description + StyleSuffix
}

// sceneSchema asks for the description as a JSON object when structured
// summaries are enabled.
var sceneSchema = []byte(`{
	"name": "scene_description",
	"strict": true,
	"schema": {
		"type": "object",
		"properties": {
			"description": {
				"type": "string",
				"minLength": 1,
				"description": "One to two simple sentences describing the scene and the characters' appearance"
			}
		},
		"required": ["description"],
		"additionalProperties": false
	}
}`)
