package config

// DefaultDefinitionYAML is written by Init and used when a project has no
// definition file. It builds a conventional src/ tree into build/.
const DefaultDefinitionYAML = `# assetflow project definition
version: 1
source: src
output: build
plugins: .assetflow/plugins

tasks:
  - name: clean
    transform: clean
    options:
      paths:
        - build/*.html
        - build/fonts
        - build/images
        - build/scripts
        - build/styles

  # Compiled stylesheets land in the state directory and are prefixed into
  # build/styles by postcss.
  - name: style
    transform: exec
    mode: aggregate
    inputs: [src/sass/main.scss]
    implicit: ["src/sass/**/*.scss"]
    output: .assetflow/styles/main.css
    options:
      command: sass
      args: ["--source-map", "{input}", "{output}"]

  - name: style-build
    transform: exec
    mode: aggregate
    inputs: [src/sass/main.scss]
    implicit: ["src/sass/**/*.scss"]
    output: .assetflow/styles/main.build.css
    options:
      command: sass
      args: ["--no-source-map", "{input}", "{output}"]

  - name: group-media
    transform: exec
    mode: aggregate
    inputs: [.assetflow/styles/main.build.css]
    output: .assetflow/styles/main.grouped.css
    depends_on: [style-build]
    options:
      command: postcss
      args: ["{input}", "--use", "postcss-sort-media-queries", "--no-map", "-o", "{output}"]

  - name: prefix
    transform: exec
    mode: aggregate
    inputs: [.assetflow/styles/main.css]
    output: build/styles/main.css
    depends_on: [style]
    options:
      command: postcss
      args: ["{input}", "--use", "autoprefixer", "--map", "-o", "{output}"]

  - name: prefix-build
    transform: exec
    mode: aggregate
    inputs: [.assetflow/styles/main.grouped.css]
    output: build/styles/main.css
    depends_on: [group-media]
    options:
      command: postcss
      args: ["{input}", "--use", "autoprefixer", "--no-map", "-o", "{output}"]

  - name: copy:scripts
    transform: copy
    inputs: ["src/scripts/*.{js,json}"]
    output: build/scripts

  - name: copy:images
    transform: copy
    inputs: ["src/images/**/*.{jpg,jpeg,png,gif,svg}"]
    output: build/images

  - name: copy:fonts
    transform: copy
    inputs: ["src/fonts/**/*.{ttf,woff,woff2,eot,svg}"]
    output: build/fonts

  - name: copy:php
    transform: copy
    inputs: ["src/**/*.php"]
    output: build

  - name: concat:scripts
    transform: concat
    mode: aggregate
    inputs: ["src/_load-scripts/*.js"]
    output: build/scripts/load-scripts.js

  - name: concat:styles
    transform: concat
    mode: aggregate
    inputs: ["src/_load-styles/*.css"]
    output: build/styles/load-styles.css

  - name: minify:css
    transform: minify
    inputs: ["build/styles/*.css", "!build/styles/*.min.css"]
    output: build/styles
    extname: .min.css

  - name: minify:scripts
    transform: minify
    inputs: ["build/scripts/*.js", "!build/scripts/*.min.js"]
    output: build/scripts
    extname: .min.js

  # Rewrites build/images in place, so staleness cannot apply.
  - name: optimize-images
    transform: optimize
    mode: always
    inputs: ["build/images/**/*.{jpg,jpeg,png,svg}"]
    output: build/images

  - name: create-sprite
    transform: sprite
    mode: aggregate
    inputs: ["src/images/sprite/*.png"]
    output: src/images/spritesheet.png
    options:
      stylesheet: src/sass/_sprite.scss
      img_path: ../images/spritesheet.png
      padding: 2
      format: css

  - name: html
    transform: include
    inputs: ["src/*.html"]
    implicit: ["src/_include/**/*.html"]
    output: build
    options:
      prefix: "@@"
      basepath: "@file"
      indent: true

targets:
  build-dev:
    description: Development build with source maps
    steps:
      - clean
      - [style, "copy:scripts", "copy:images", "copy:fonts", "copy:php", "concat:scripts", "concat:styles"]
      - prefix
      - html

  build:
    description: Production build with minified assets
    steps:
      - clean
      - [style-build, "copy:scripts", "copy:images", "copy:fonts", "copy:php", "concat:scripts", "concat:styles"]
      - group-media
      - prefix-build
      - ["minify:css", "minify:scripts", optimize-images]
      - html
    finalize:
      files: ["build/*.html"]
      replace:
        - {from: styles/main.css, to: styles/main.min.css}
        - {from: styles/load-styles.css, to: styles/load-styles.min.css}
        - {from: scripts/load-scripts.js, to: scripts/load-scripts.min.js}

  sprite:
    description: Regenerate the sprite sheet and copy images
    steps:
      - create-sprite
      - "copy:images"

watch:
  - patterns: ["src/_include/**/*.html"]
    tasks: [html]
  # Recompiling a stylesheet also reruns its postcss pass.
  - patterns: ["src/sass/**/*.scss"]
    tasks: [prefix, prefix-build]

server:
  host: 127.0.0.1
  port: 5050
`
