package support

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/ticketocr/cmd/ocr/cmd"
	"github.com/MeKo-Tech/ticketocr/internal/pipeline"
	"github.com/MeKo-Tech/ticketocr/internal/testutil"
	"github.com/cucumber/godog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// annotationFile mirrors the layout the evaluate command reads.
type annotationFile struct {
	Description string                   `yaml:"description,omitempty"`
	Cases       []testutil.TicketFixture `yaml:"cases"`
}

// writeFile writes content below the temp directory and registers it.
func (testCtx *TestContext) writeFile(name string, content []byte) error {
	path := filepath.Join(testCtx.TempDir, name)
	if err := testutil.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", name, err)
	}
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	testCtx.TrackFile(name, path)
	return nil
}

// aSampleTicketTextFile writes the bauxite sample ticket text.
func (testCtx *TestContext) aSampleTicketTextFile(name string) error {
	return testCtx.writeFile(name, []byte(testutil.SampleTicketText))
}

func (testCtx *TestContext) aFileContaining(name string, content *godog.DocString) error {
	return testCtx.writeFile(name, []byte(content.Content))
}

// anAnnotationFileWithTheSampleCases writes the annotated sample fixtures.
func (testCtx *TestContext) anAnnotationFileWithTheSampleCases(name string) error {
	data, err := yaml.Marshal(annotationFile{Description: "integration fixtures", Cases: testutil.SampleFixtures()})
	if err != nil {
		return fmt.Errorf("failed to encode annotations: %w", err)
	}
	return testCtx.writeFile(name, data)
}

// anAnnotationFileExpecting writes a single text case whose expectation is
// deliberately wrong for one field.
func (testCtx *TestContext) anAnnotationFileExpecting(name, field, value string) error {
	expected := testutil.SampleExpected()
	expected[field] = value
	cases := []testutil.TicketFixture{{
		Name:     "bauxite-mismatch",
		Text:     testutil.SampleTicketText,
		Template: "bauxite",
		Expected: expected,
	}}
	data, err := yaml.Marshal(annotationFile{Cases: cases})
	if err != nil {
		return fmt.Errorf("failed to encode annotations: %w", err)
	}
	return testCtx.writeFile(name, data)
}

func (testCtx *TestContext) theEnvironmentVariableIsSetTo(name, value string) error {
	testCtx.SetEnv(name, testCtx.substitute(value))
	return nil
}

// iRunCommand executes the CLI in process. The leading program name is
// optional.
func (testCtx *TestContext) iRunCommand(command string) error {
	return testCtx.run(command, "")
}

func (testCtx *TestContext) iRunCommandWithInput(command string, input *godog.DocString) error {
	return testCtx.run(command, input.Content)
}

func (testCtx *TestContext) run(command, stdin string) error {
	command = testCtx.substitute(command)
	args, err := splitArgs(command)
	if err != nil {
		return err
	}
	if len(args) > 0 && args[0] == "ticketocr" {
		args = args[1:]
	}

	root := cmd.GetRootCommand()
	resetFlags(root)
	defer resetFlags(root)

	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)

	testCtx.LastCommand = command
	testCtx.LastError = root.ExecuteContext(context.Background())
	testCtx.LastOutput = stdout.String()
	testCtx.LastStderr = stderr.String()
	return nil
}

// resetFlags restores every flag to its default. The command tree is shared
// between scenarios.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// splitArgs splits a command line on spaces, honoring single and double
// quotes.
func splitArgs(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		quote   rune
		inToken bool
	)
	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case r == ' ' || r == '\t':
			if inToken {
				args = append(args, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote in %q", line)
	}
	if inToken {
		args = append(args, cur.String())
	}
	return args, nil
}

func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastError != nil {
		return fmt.Errorf("command %q failed: %w\nstderr: %s", testCtx.LastCommand, testCtx.LastError, testCtx.LastStderr)
	}
	return nil
}

func (testCtx *TestContext) theCommandShouldFail() error {
	if testCtx.LastError == nil {
		return fmt.Errorf("expected command %q to fail, but it succeeded", testCtx.LastCommand)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldContain(expectedText string) error {
	if !strings.Contains(testCtx.LastOutput, expectedText) {
		return fmt.Errorf("expected output to contain %q, got:\n%s", expectedText, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldNotContain(text string) error {
	if strings.Contains(testCtx.LastOutput, text) {
		return fmt.Errorf("expected output not to contain %q, got:\n%s", text, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theStderrShouldContain(expectedText string) error {
	if !strings.Contains(testCtx.LastStderr, expectedText) {
		return fmt.Errorf("expected stderr to contain %q, got:\n%s", expectedText, testCtx.LastStderr)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldBeValidJSON() error {
	if !json.Valid([]byte(strings.TrimSpace(testCtx.LastOutput))) {
		return fmt.Errorf("output is not valid JSON:\n%s", testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldBeValidYAML() error {
	var v interface{}
	if err := yaml.Unmarshal([]byte(testCtx.LastOutput), &v); err != nil {
		return fmt.Errorf("output is not valid YAML: %w", err)
	}
	if v == nil {
		return errors.New("output is empty")
	}
	return nil
}

func (testCtx *TestContext) theErrorShouldMention(errorText string) error {
	if testCtx.LastError == nil {
		return fmt.Errorf("expected an error mentioning %q, but the command succeeded", errorText)
	}
	if !strings.Contains(strings.ToLower(testCtx.LastError.Error()), strings.ToLower(errorText)) {
		return fmt.Errorf("expected error to mention %q, got: %v", errorText, testCtx.LastError)
	}
	return nil
}

// outputTickets decodes the command output as one ticket or a list of them.
func (testCtx *TestContext) outputTickets() ([]pipeline.TicketResult, error) {
	return decodeTickets([]byte(testCtx.LastOutput))
}

func decodeTickets(data []byte) ([]pipeline.TicketResult, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("no output")
	}
	if trimmed[0] == '[' {
		var list []pipeline.TicketResult
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("failed to decode tickets: %w", err)
		}
		return list, nil
	}
	var one pipeline.TicketResult
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return nil, fmt.Errorf("failed to decode ticket: %w", err)
	}
	return []pipeline.TicketResult{one}, nil
}

func fieldValue(res pipeline.TicketResult, name string) (string, bool) {
	for _, f := range res.Fields {
		if string(f.Name) == name {
			return f.Value, true
		}
	}
	return "", false
}

func checkField(tickets []pipeline.TicketResult, name, want string) error {
	if len(tickets) == 0 {
		return errors.New("no tickets in output")
	}
	got, ok := fieldValue(tickets[0], name)
	if !ok {
		return fmt.Errorf("field %q not present", name)
	}
	if got != want {
		return fmt.Errorf("field %q: expected %q, got %q", name, want, got)
	}
	return nil
}

func (testCtx *TestContext) theTicketFieldShouldBe(name, want string) error {
	tickets, err := testCtx.outputTickets()
	if err != nil {
		return err
	}
	return checkField(tickets, name, want)
}

func (testCtx *TestContext) theOutputShouldListTickets(n int) error {
	tickets, err := testCtx.outputTickets()
	if err != nil {
		return err
	}
	if len(tickets) != n {
		return fmt.Errorf("expected %d tickets, got %d", n, len(tickets))
	}
	return nil
}

func (testCtx *TestContext) theFileShouldExist(name string) error {
	path := testCtx.substitute(testCtx.FilePath(name))
	if !testutil.FileExists(path) {
		return fmt.Errorf("file %s does not exist", path)
	}
	return nil
}

func (testCtx *TestContext) theFileShouldContain(name, expectedContent string) error {
	path := testCtx.substitute(testCtx.FilePath(name))
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is below the scenario temp dir
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if !strings.Contains(string(data), expectedContent) {
		return fmt.Errorf("file %s does not contain %q", path, expectedContent)
	}
	return nil
}

// RegisterCommonSteps registers the fixture, command and output steps.
func (testCtx *TestContext) RegisterCommonSteps(sc *godog.ScenarioContext) {
	testCtx.registerFixtureSteps(sc)
	testCtx.registerCommandSteps(sc)
	testCtx.registerOutputSteps(sc)
	testCtx.registerFileSteps(sc)
}

func (testCtx *TestContext) registerFixtureSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a sample ticket text file "([^"]*)"$`, testCtx.aSampleTicketTextFile)
	sc.Step(`^a file "([^"]*)" containing:$`, testCtx.aFileContaining)
	sc.Step(`^an annotation file "([^"]*)" with the sample cases$`, testCtx.anAnnotationFileWithTheSampleCases)
	sc.Step(`^an annotation file "([^"]*)" expecting "([^"]*)" to be "([^"]*)"$`, testCtx.anAnnotationFileExpecting)
	sc.Step(`^the environment variable "([^"]*)" is set to "([^"]*)"$`, testCtx.theEnvironmentVariableIsSetTo)
}

func (testCtx *TestContext) registerCommandSteps(sc *godog.ScenarioContext) {
	sc.Step(`^I run "([^"]*)"$`, testCtx.iRunCommand)
	sc.Step(`^I run "([^"]*)" with input:$`, testCtx.iRunCommandWithInput)
	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail$`, testCtx.theCommandShouldFail)
}

func (testCtx *TestContext) registerOutputSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the output should not contain "([^"]*)"$`, testCtx.theOutputShouldNotContain)
	sc.Step(`^stderr should contain "([^"]*)"$`, testCtx.theStderrShouldContain)
	sc.Step(`^the output should be valid JSON$`, testCtx.theOutputShouldBeValidJSON)
	sc.Step(`^the output should be valid YAML$`, testCtx.theOutputShouldBeValidYAML)
	sc.Step(`^the error should mention "([^"]*)"$`, testCtx.theErrorShouldMention)
	sc.Step(`^the ticket field "([^"]*)" should be "([^"]*)"$`, testCtx.theTicketFieldShouldBe)
	sc.Step(`^the output should list (\d+) tickets?$`, testCtx.theOutputShouldListTickets)
}

func (testCtx *TestContext) registerFileSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the file "([^"]*)" should exist$`, testCtx.theFileShouldExist)
	sc.Step(`^the file "([^"]*)" should contain "([^"]*)"$`, testCtx.theFileShouldContain)
}
