package mcpserver

// WorkflowContract describes the text directory layout and the snapshot
// workflow so LLM clients pick valid arguments for the tools.
const WorkflowContract = `# mcodex Workflow Contract

## Text directory

` + "```" + `
text_<slug>/
  metadata.yaml     # id, title, slug, created_at, authors[]
  text.md           # the source, Pandoc Markdown
  .snapshot/
    draft-1/        # immutable copy plus snapshot.yaml
` + "```" + `

A text is addressed by a path to its directory or, inside a repository, by
its slug.

## Stages

Stages progress forward only: draft, preview, rc, final, published.

- Pass a bare stage to ` + "`" + `snapshot_create` + "`" + ` to get the next number
  (` + "`" + `draft` + "`" + ` after ` + "`" + `draft-2` + "`" + ` creates ` + "`" + `draft-3` + "`" + `).
- A stage below the current one is rejected. ` + "`" + `text_status` + "`" + ` lists
  the stages still available.
- Custom labels match ` + "`" + `[A-Za-z0-9][A-Za-z0-9_.-]*` + "`" + ` and skip the
  progression check.
- Snapshots are never modified or deleted.

## Builds

` + "`" + `build_text` + "`" + ` takes a version reference:

- ` + "`" + `.` + "`" + ` or empty builds the working tree.
- A label such as ` + "`" + `rc-1` + "`" + ` builds that snapshot.
- A bare stage such as ` + "`" + `rc` + "`" + ` builds its latest snapshot.

Artifacts are named ` + "`" + `<slug>_<label>.<ext>` + "`" + `. Use ` + "`" + `dry_run` + "`" + ` to
see the commands without running pandoc, vlna or latexmk.
`
