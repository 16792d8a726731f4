package transforms

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kingrea/assetflow/internal/pipeline"
	"github.com/kingrea/assetflow/internal/transform"
)

func writeTestFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
	return path
}

func readTestFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func request(t *testing.T, root string, mode pipeline.Mode, output string, patterns ...string) transform.Request {
	t.Helper()
	inputs, err := pipeline.ResolveInputs(root, patterns)
	if err != nil {
		t.Fatalf("resolve inputs: %v", err)
	}
	return transform.Request{
		Task:   "test",
		Root:   root,
		Inputs: inputs,
		Output: filepath.Join(root, filepath.FromSlash(output)),
		Mode:   mode,
	}
}

func newTransform(t *testing.T, id string, opts pipeline.Options) transform.Transform {
	t.Helper()
	tr, err := NewRegistry().Resolve(id, opts)
	if err != nil {
		t.Fatalf("resolve %s: %v", id, err)
	}
	return tr
}

func TestRegisterBuiltinsInstallsEveryID(t *testing.T) {
	reg := NewRegistry()
	for _, id := range []string{IDCopy, IDConcat, IDClean, IDInclude, IDReplace, IDMinify, IDOptimize, IDSprite, IDExec} {
		if !reg.Has(id) {
			t.Fatalf("expected %s to be registered", id)
		}
	}
	if err := RegisterBuiltins(reg); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestCopyMirrorsInputTree(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "src/js/app.js", "app")
	writeTestFile(t, root, "src/js/lib/util.js", "util")

	req := request(t, root, pipeline.ModeEach, "build/js", "src/js/**/*.js")
	res, err := newTransform(t, IDCopy, nil).Apply(context.Background(), req)
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if len(res.Written) != 2 {
		t.Fatalf("expected 2 written files, got %v", res.Written)
	}
	if got := readTestFile(t, filepath.Join(root, "build/js/lib/util.js")); got != "util" {
		t.Fatalf("unexpected copy content %q", got)
	}
}

func TestConcatJoinsInOrder(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "src/a.js", "a")
	writeTestFile(t, root, "src/b.js", "b")

	req := request(t, root, pipeline.ModeAggregate, "build/all.js", "src/*.js")
	if _, err := newTransform(t, IDConcat, pipeline.Options{"separator": ";\n"}).Apply(context.Background(), req); err != nil {
		t.Fatalf("concat: %v", err)
	}
	if got := readTestFile(t, req.Output); got != "a;\nb" {
		t.Fatalf("unexpected concat output %q", got)
	}
}

func TestCleanRemovesMatches(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "build/css/main.css", "x")
	writeTestFile(t, root, "build/index.html", "x")
	writeTestFile(t, root, "src/index.html", "keep")

	tr := newTransform(t, IDClean, pipeline.Options{"paths": []any{"build/**"}})
	if _, err := tr.Apply(context.Background(), transform.Request{Root: root}); err != nil {
		t.Fatalf("clean: %v", err)
	}
	if exists(filepath.Join(root, "build/index.html")) || exists(filepath.Join(root, "build/css")) {
		t.Fatalf("expected build contents to be removed")
	}
	if !exists(filepath.Join(root, "src/index.html")) {
		t.Fatalf("clean removed a file outside its patterns")
	}
}

func TestCleanRejectsEscapingPaths(t *testing.T) {
	for _, paths := range []any{"../elsewhere", "/tmp", "."} {
		if _, err := NewClean(pipeline.Options{"paths": paths}); err == nil {
			t.Fatalf("expected %v to be rejected", paths)
		}
	}
	if _, err := NewClean(nil); err == nil {
		t.Fatalf("expected missing paths to be rejected")
	}
}

func TestIncludeExpandsPartialsWithVariablesAndIndent(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "src/index.html", "<body>\n  @@include('_include/head.html', {\"title\": \"Home\"})\n</body>\n")
	writeTestFile(t, root, "src/_include/head.html", "<h1>@@title</h1>\n@@include('nav.html')\n")
	writeTestFile(t, root, "src/_include/nav.html", "<nav>@@title</nav>\n")

	req := request(t, root, pipeline.ModeEach, "build", "src/*.html")
	tr := newTransform(t, IDInclude, pipeline.Options{"indent": true})
	if _, err := tr.Apply(context.Background(), req); err != nil {
		t.Fatalf("include: %v", err)
	}
	want := "<body>\n  <h1>Home</h1>\n  <nav>Home</nav>\n</body>\n"
	if got := readTestFile(t, filepath.Join(root, "build/index.html")); got != want {
		t.Fatalf("unexpected include output:\n%q\nwant\n%q", got, want)
	}
}

func TestIncludeRootBasepath(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "src/pages/about.html", "@@include('src/_include/foot.html')")
	writeTestFile(t, root, "src/_include/foot.html", "<footer></footer>\n")

	req := request(t, root, pipeline.ModeEach, "build", "src/pages/*.html")
	tr := newTransform(t, IDInclude, pipeline.Options{"basepath": "@root"})
	if _, err := tr.Apply(context.Background(), req); err != nil {
		t.Fatalf("include: %v", err)
	}
	if got := readTestFile(t, filepath.Join(root, "build/about.html")); got != "<footer></footer>" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestIncludeDetectsCycles(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "src/a.html", "@@include('b.html')")
	writeTestFile(t, root, "src/b.html", "@@include('a.html')")

	req := request(t, root, pipeline.ModeEach, "build", "src/a.html")
	_, err := newTransform(t, IDInclude, nil).Apply(context.Background(), req)
	var cycle *IncludeCycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("expected IncludeCycleError, got %v", err)
	}
	if len(cycle.Chain) != 3 {
		t.Fatalf("unexpected cycle chain %v", cycle.Chain)
	}
}

func TestIncludeRejectsMalformedDirective(t *testing.T) {
	if _, _, _, err := parseIncludeArgs([]byte("head.html)")); err == nil {
		t.Fatalf("expected unquoted path to fail")
	}
	if _, _, _, err := parseIncludeArgs([]byte("'head.html', {\"a\": 1}")); err == nil {
		t.Fatalf("expected missing parenthesis to fail")
	}
	target, args, n, err := parseIncludeArgs([]byte(` "x.html" , {"a": "}"} ) rest`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if target != "x.html" || args["a"] != "}" || n != len(` "x.html" , {"a": "}"} )`) {
		t.Fatalf("unexpected parse result %q %v %d", target, args, n)
	}
}

func TestReplaceAllPrefersLongestMatch(t *testing.T) {
	reps := []pipeline.Replacement{{From: "a", To: "x"}, {From: "ab", To: "y"}}
	if got := string(ReplaceAll([]byte("ab a"), reps)); got != "y x" {
		t.Fatalf("unexpected replacement %q", got)
	}
}

func TestReplaceAllIsIdempotent(t *testing.T) {
	reps := []pipeline.Replacement{
		{From: "css/main.css", To: "css/main.min.css"},
		{From: "style.css", To: "style.css?v=2"},
		{From: `<script src="js/app.js"></script>`, To: `<script src="js/vendor.js"></script><script src="js/app.js"></script>`},
	}
	doc := []byte(`<link href="css/main.css"><link href="style.css"><script src="js/app.js"></script>`)
	once := ReplaceAll(doc, reps)
	twice := ReplaceAll(once, reps)
	if !bytes.Equal(once, twice) {
		t.Fatalf("replace is not idempotent:\n%s\n%s", once, twice)
	}
	want := `<link href="css/main.min.css"><link href="style.css?v=2"><script src="js/vendor.js"></script><script src="js/app.js"></script>`
	if string(once) != want {
		t.Fatalf("unexpected replacement:\n%s\nwant\n%s", once, want)
	}
}

func TestReplaceTransformRewritesInPlace(t *testing.T) {
	root := t.TempDir()
	path := writeTestFile(t, root, "build/index.html", `<link href="main.css">`)
	tr := newTransform(t, IDReplace, pipeline.Options{
		"replacements": []any{map[string]any{"from": "main.css", "to": "main.min.css"}},
	})
	req := request(t, root, pipeline.ModeEach, "build", "build/*.html")
	res, err := tr.Apply(context.Background(), req)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if len(res.Written) != 1 {
		t.Fatalf("expected one write, got %v", res.Written)
	}
	res, err = tr.Apply(context.Background(), req)
	if err != nil {
		t.Fatalf("replace again: %v", err)
	}
	if len(res.Written) != 0 {
		t.Fatalf("expected unchanged file to be skipped, got %v", res.Written)
	}
	if got := readTestFile(t, path); got != `<link href="main.min.css">` {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestReplaceRequiresReplacements(t *testing.T) {
	if _, err := NewReplace(nil); err == nil {
		t.Fatalf("expected error without replacements")
	}
	if _, err := NewReplace(pipeline.Options{"replacements": []any{"bad"}}); err == nil {
		t.Fatalf("expected error for malformed replacement")
	}
}

func TestMinifyByExtension(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "src/css/main.css", "body {\n  color: red;\n}\n")
	req := request(t, root, pipeline.ModeEach, "build/css", "src/css/*.css")
	req.Extname = ".min.css"
	if _, err := newTransform(t, IDMinify, nil).Apply(context.Background(), req); err != nil {
		t.Fatalf("minify: %v", err)
	}
	if got := readTestFile(t, filepath.Join(root, "build/css/main.min.css")); got != "body{color:red}" {
		t.Fatalf("unexpected minified css %q", got)
	}
}

func TestMinifyKeepsScriptIdentifiers(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "src/js/app.js", "function f() {\n  var longName = 1;\n  return longName + longName;\n}\n")
	req := request(t, root, pipeline.ModeEach, "build/js", "src/js/*.js")
	req.Extname = ".min.js"
	if _, err := newTransform(t, IDMinify, nil).Apply(context.Background(), req); err != nil {
		t.Fatalf("minify: %v", err)
	}
	got := readTestFile(t, filepath.Join(root, "build/js/app.min.js"))
	if !strings.Contains(got, "longName") || strings.Contains(got, "\n") {
		t.Fatalf("expected compact script with identifiers intact, got %q", got)
	}

	if _, err := newTransform(t, IDMinify, pipeline.Options{"mangle": true}).Apply(context.Background(), req); err != nil {
		t.Fatalf("minify with mangle: %v", err)
	}
	if got := readTestFile(t, filepath.Join(root, "build/js/app.min.js")); strings.Contains(got, "longName") {
		t.Fatalf("expected mangled identifiers, got %q", got)
	}
}

func TestMinifyRejectsUnknownType(t *testing.T) {
	if _, err := NewMinify(pipeline.Options{"type": "wasm"}); err == nil {
		t.Fatalf("expected unsupported type to fail")
	}
	root := t.TempDir()
	writeTestFile(t, root, "src/readme.txt", "hello")
	req := request(t, root, pipeline.ModeEach, "build", "src/*.txt")
	if _, err := newTransform(t, IDMinify, nil).Apply(context.Background(), req); err == nil {
		t.Fatalf("expected missing media type to fail")
	}
}

func writePNG(t *testing.T, root, rel string, w, h int, c color.Color) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := (&png.Encoder{CompressionLevel: png.NoCompression}).Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	writeTestFile(t, root, rel, buf.String())
}

func TestOptimizeNeverGrowsFiles(t *testing.T) {
	root := t.TempDir()
	writePNG(t, root, "src/images/flat.png", 32, 32, color.NRGBA{R: 200, A: 255})
	writeTestFile(t, root, "src/images/notes.txt", "plain")

	req := request(t, root, pipeline.ModeEach, "build/images", "src/images/*")
	res, err := newTransform(t, IDOptimize, nil).Apply(context.Background(), req)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if len(res.Written) != 2 {
		t.Fatalf("expected both outputs written, got %v", res.Written)
	}
	src, _ := os.Stat(filepath.Join(root, "src/images/flat.png"))
	out, err := os.Stat(filepath.Join(root, "build/images/flat.png"))
	if err != nil {
		t.Fatalf("stat output: %v", err)
	}
	if out.Size() > src.Size() {
		t.Fatalf("optimized png grew from %d to %d bytes", src.Size(), out.Size())
	}
	if got := readTestFile(t, filepath.Join(root, "build/images/notes.txt")); got != "plain" {
		t.Fatalf("unexpected passthrough content %q", got)
	}
}

func TestOptimizeValidatesQuality(t *testing.T) {
	if _, err := NewOptimize(pipeline.Options{"quality": 0}); err == nil {
		t.Fatalf("expected quality 0 to be rejected")
	}
}

func TestSpriteStacksImagesWithPadding(t *testing.T) {
	root := t.TempDir()
	writePNG(t, root, "src/images/sprite/a.png", 4, 3, color.NRGBA{R: 255, A: 255})
	writePNG(t, root, "src/images/sprite/b.png", 2, 5, color.NRGBA{B: 255, A: 255})

	tr := newTransform(t, IDSprite, pipeline.Options{
		"stylesheet": "src/sass/_sprite.scss",
		"img_path":   "../images/spritesheet.png",
		"format":     "scss",
	})
	req := request(t, root, pipeline.ModeAggregate, "src/images/spritesheet.png", "src/images/sprite/*.png")
	res, err := tr.Apply(context.Background(), req)
	if err != nil {
		t.Fatalf("sprite: %v", err)
	}
	if len(res.Written) != 2 {
		t.Fatalf("expected sheet and stylesheet, got %v", res.Written)
	}
	sheet, err := decodeImage(req.Output)
	if err != nil {
		t.Fatalf("decode sheet: %v", err)
	}
	if b := sheet.Bounds(); b.Dx() != 4 || b.Dy() != 3+defaultSpritePadding+5 {
		t.Fatalf("unexpected sheet bounds %v", b)
	}
	if _, _, bl, _ := sheet.At(0, 5).RGBA(); bl == 0 {
		t.Fatalf("expected second image at y=5")
	}
	css := readTestFile(t, filepath.Join(root, "src/sass/_sprite.scss"))
	for _, want := range []string{
		".icon-b {\n  background-image: url(../images/spritesheet.png);\n  background-position: 0px -5px;\n  width: 2px;\n  height: 5px;\n}",
		"$icon-a-height: 3px;",
	} {
		if !strings.Contains(css, want) {
			t.Fatalf("stylesheet missing %q:\n%s", want, css)
		}
	}
}

func TestSpriteNames(t *testing.T) {
	cases := map[string]string{
		"arrow.png":            "arrow",
		"ui/Arrow Left.png":    "ui-arrow-left",
		"social/twitter-x.png": "social-twitter-x",
	}
	for in, want := range cases {
		if got := spriteName(in); got != want {
			t.Fatalf("spriteName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExecRunsPerFile(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	root := t.TempDir()
	writeTestFile(t, root, "src/a.txt", "alpha")
	tr := newTransform(t, IDExec, pipeline.Options{
		"command": "sh",
		"args":    []any{"-c", `cp "$0" "$1"`, "{input}", "{output}"},
	})
	req := request(t, root, pipeline.ModeEach, "build", "src/*.txt")
	res, err := tr.Apply(context.Background(), req)
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if len(res.Written) != 1 || readTestFile(t, filepath.Join(root, "build/a.txt")) != "alpha" {
		t.Fatalf("unexpected exec result %v", res.Written)
	}
}

func TestExecReportsToolOutput(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	root := t.TempDir()
	tr := newTransform(t, IDExec, pipeline.Options{
		"command": "sh",
		"args":    []any{"-c", "echo broken >&2; exit 3"},
	})
	_, err := tr.Apply(context.Background(), transform.Request{Root: root, Mode: pipeline.ModeAlways})
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Fatalf("expected tool output in error, got %v", err)
	}
}

func TestPlaceholderExpansion(t *testing.T) {
	p := placeholders{input: "a.scss", output: "out/a.css", outdir: "out", inputs: []string{"a.scss", "b.scss"}}
	got := p.expand([]string{"{inputs}", "--out={output}", "-d", "{outdir}", "{input}"})
	want := []string{"a.scss", "b.scss", "--out=out/a.css", "-d", "out", "a.scss"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("expand = %v, want %v", got, want)
	}
}
