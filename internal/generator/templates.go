package generator

const programTemplate = `// Flow {{comment .FlowName}} ({{comment .FlowID}}), generated by blockflow. Do not edit.
import { $, _, setConfig, ComparisonModel } from "aitomics";
import { readFile, writeFile, mkdir } from "node:fs/promises";
import path from "node:path";

const MARKER = {{json .Marker}};

function emit(type, message) {
  process.stdout.write(JSON.stringify({ type, message: String(message) }) + "\n");
}

const log = (message) => emit("log", message);
const warn = (message) => emit("warn", message);
const fail = (message) => emit("error", message);
const progress = (event) => emit("log", MARKER + JSON.stringify(event));

function describe(err) {
  return err && err.stack ? err.stack : String(err);
}

function parseCsv(text) {
  const rows = [];
  let row = [];
  let field = "";
  let quoted = false;
  for (let i = 0; i < text.length; i++) {
    const ch = text[i];
    if (quoted) {
      if (ch === '"' && text[i + 1] === '"') {
        field += '"';
        i++;
      } else if (ch === '"') {
        quoted = false;
      } else {
        field += ch;
      }
    } else if (ch === '"') {
      quoted = true;
    } else if (ch === ",") {
      row.push(field);
      field = "";
    } else if (ch === "\n" || ch === "\r") {
      if (ch === "\r" && text[i + 1] === "\n") i++;
      row.push(field);
      rows.push(row);
      row = [];
      field = "";
    } else {
      field += ch;
    }
  }
  if (field !== "" || row.length > 0) {
    row.push(field);
    rows.push(row);
  }
  const [header, ...body] = rows.filter((r) => r.length > 1 || r[0] !== "");
  if (!header) return [];
  return body.map((r) => Object.fromEntries(header.map((h, i) => [h.trim(), r[i] ?? ""])));
}

async function loadRecords(file, format) {
  const text = await readFile(file, "utf8");
  if (format === "json") {
    const data = JSON.parse(text);
    return Array.isArray(data) ? data : [data];
  }
  if (format === "csv") return parseCsv(text);
  return [text];
}

async function writeExport(dir, filename, value) {
  await mkdir(dir, { recursive: true });
  const target = path.join(dir, filename);
  const body = typeof value === "string" ? value : JSON.stringify(value, null, 2);
  await writeFile(target, body ?? "null", "utf8");
  return target;
}

setConfig({{json .ModelConfig}});
{{- range .Callers}}

// {{.Kind}} {{comment .BlockID}}: {{comment .ActionID}}
const action_{{.Ident}} = {{.Snippet.Source}};
const config_{{.Ident}} = {{json .Config}};
{{- if .Wrapped}}
const tracked_{{.Ident}} = $((input) => action_{{.Ident}}(input, config_{{.Ident}}), {{json .BlockID}});
async function call_{{.Ident}}(value) {
  const response = await tracked_{{.Ident}}.run(_.wrap(value));
  return response.output;
}
{{- else if .IsComparison}}
async function call_{{.Ident}}(left, right) {
  return await action_{{.Ident}}(left, right, config_{{.Ident}});
}
{{- else}}
async function call_{{.Ident}}(value) {
  return await action_{{.Ident}}(value, config_{{.Ident}});
}
{{- end}}
{{- end}}

export async function {{.EntryPoint}}() {
  const results = {{json .Results}};
  const comparisons = {};
  log({{json (printf "Running flow %s" .FlowName)}});
{{- range .Imports}}

  // import {{comment .BlockID}}
  {
    let records = [];
    try {
      records = await loadRecords({{json .File}}, {{json .Format}});
    } catch (err) {
      fail({{json (printf "Import %s could not be loaded: " .Name)}} + describe(err));
    }
{{- if $.ItemLimit}}
    records = records.slice(0, {{deref $.ItemLimit}});
{{- end}}
    log({{json (printf "Import %s: " .Name)}} + records.length + " item(s)");
    for (let index = 0; index < records.length; index++) {
      progress({ event: "item", block: {{json .BlockID}}, index: index + 1, total: records.length });
      try {
        const outputs = {};
        outputs[{{json .BlockID}}] = {{if .Caller}}await call_{{.Caller}}(records[index]){{else}}records[index]{{end}};
{{- range .Stages}}
        outputs[{{json .NodeID}}] = {{if .Caller}}await call_{{.Caller}}(outputs[{{json .From}}]){{else}}outputs[{{json .From}}]{{end}};
{{- end}}
        results[{{json .BlockID}}].push(outputs[{{json .Terminal}}]);
{{- range .Stages}}
        results[{{json .NodeID}}].push(outputs[{{json .NodeID}}]);
{{- end}}
      } catch (err) {
        fail("Item " + (index + 1) + {{json (printf " of import %s failed: " .Name)}} + describe(err));
      }
    }
  }
{{- end}}
{{- range .Comparisons}}

  // comparison {{comment .BlockID}}
  try {
    const left = { id: {{json .Left.BlockID}}, label: {{json .Left.Label}}, values: results[{{json .Left.BlockID}}] ?? [] };
    const right = { id: {{json .Right.BlockID}}, label: {{json .Right.Label}}, values: results[{{json .Right.BlockID}}] ?? [] };
    comparisons[{{json .BlockID}}] = {{if .Caller}}await call_{{.Caller}}(left, right){{else}}{ left, right }{{end}};
    log({{json (printf "Comparison %s complete" .Name)}});
  } catch (err) {
    fail({{json (printf "Comparison %s failed: " .Name)}} + describe(err));
  }
{{- end}}
{{- range .Exports}}

  // export {{comment .BlockID}}
  try {
    const data = {{if .Input.IsComparison}}comparisons[{{json .Input.BlockID}}]{{else}}results[{{json .Input.BlockID}}] ?? []{{end}};
    const value = {{if .Caller}}await call_{{.Caller}}(data){{else}}data{{end}};
    const target = await writeExport({{json .Dir}}, {{json .Filename}}, value);
    log({{json (printf "Export %s written to " .Name)}} + target);
  } catch (err) {
    fail({{json (printf "Export %s failed: " .Name)}} + describe(err));
  }
{{- end}}

  log({{json (printf "Flow %s finished" .FlowName)}});
  return { results, comparisons };
}
`

const runnerTemplate = `// Runner for flow {{comment .FlowID}}, generated by blockflow. Do not edit.
import { createInterface } from "node:readline";

const emit = (type, message) =>
  process.stdout.write(JSON.stringify({ type, message: String(message) }) + "\n");
const describe = (err) => (err && err.stack ? err.stack : String(err));

const control = createInterface({ input: process.stdin });
control.on("line", (line) => {
  let request;
  try {
    request = JSON.parse(line);
  } catch {
    return;
  }
  if (request && request.type === "terminate") {
    emit("warn", "Termination requested, stopping");
    process.exit({{.TerminatedExitCode}});
  }
});

process.on("unhandledRejection", (err) => {
  emit("error", describe(err));
  process.exit(1);
});

function finish(code) {
  process.exitCode = code;
  control.close();
  process.stdin.destroy();
}

try {
  const program = await import({{json .Program}});
  await program.{{.EntryPoint}}();
  finish(0);
} catch (err) {
  emit("error", describe(err));
  finish(1);
}
`
