package restore

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"text/template"

	"github.com/stackport/stackport/internal/config"
)

// scriptData feeds both script templates. The volume table is the same
// mapping the export stage used, so the scripts can never drift from the
// exporter.
type scriptData struct {
	Volumes []scriptVolume
}

type scriptVolume struct {
	Archive string
	Target  string
}

const linuxScript = `#!/usr/bin/env bash
# Restores this backup into the project in the current directory.
# Run from the target project root. No arguments; all backup paths are
# resolved from this script's own location.
set -euo pipefail

SCRIPT_DIR="$(cd "$(dirname "${BASH_SOURCE[0]}")" && pwd)"
TARGET_ROOT="$(pwd)"

echo "STEP loading images from $SCRIPT_DIR/images"
for tar in "$SCRIPT_DIR"/images/*.tar; do
    [ -e "$tar" ] || continue
    echo "STEP docker load $(basename "$tar")"
    docker load -i "$tar"
done

target_for() {
    case "$1" in
{{- range .Volumes}}
    {{.Archive}}) echo "{{.Target}}" ;;
{{- end}}
    *) echo "" ;;
    esac
}

echo "STEP restoring volumes"
for entry in "$SCRIPT_DIR"/volumes/*; do
    [ -e "$entry" ] || continue
    name="$(basename "$entry")"
    name="${name%.zip}"
    target="$(target_for "$name")"
    if [ -z "$target" ]; then
        # Not part of the stack; ignore.
        continue
    fi
    dest="$TARGET_ROOT/$target"
    mkdir -p "$(dirname "$dest")"
    rm -rf "$dest"
    if [ -d "$entry" ]; then
        cp -a "$entry" "$dest"
    else
        scratch="$(mktemp -d "$TARGET_ROOT/.import.XXXXXX")"
        unzip -q "$entry" -d "$scratch"
        contents=("$scratch"/*)
        if [ "${#contents[@]}" -eq 1 ] && [ -d "${contents[0]}" ]; then
            # Strip the nesting folder the archiver introduced.
            mv "${contents[0]}" "$dest"
        else
            mkdir -p "$dest"
            mv "$scratch"/* "$dest"/
        fi
        rm -rf "$scratch"
    fi
    echo "OK $name -> $target"
done

echo "STEP copying config files"
if [ -d "$SCRIPT_DIR/config" ]; then
    # find instead of a glob: globs skip dotfiles like .env, and an
    # unmatched glob would abort the whole run under set -e.
    find "$SCRIPT_DIR/config" -maxdepth 1 -type f -exec cp -f {} "$TARGET_ROOT"/ \;
fi

echo "STEP starting stack"
docker compose up -d
echo "OK import complete"
`

const windowsScript = `# Restores this backup into the project in the current directory.
# Run from the target project root. No arguments; all backup paths are
# resolved from this script's own location.
$ErrorActionPreference = "Stop"

$ScriptDir = Split-Path -Parent $MyInvocation.MyCommand.Path
$TargetRoot = (Get-Location).Path

$VolumeTargets = @{
{{- range .Volumes}}
    "{{.Archive}}" = "{{.Target}}"
{{- end}}
}

Write-Host "STEP loading images from $ScriptDir\images"
Get-ChildItem -Path (Join-Path $ScriptDir "images") -Filter *.tar -ErrorAction SilentlyContinue | ForEach-Object {
    Write-Host "STEP docker load $($_.Name)"
    docker load -i $_.FullName
    if ($LASTEXITCODE -ne 0) { exit 1 }
}

Write-Host "STEP restoring volumes"
$VolumesDir = Join-Path $ScriptDir "volumes"
if (Test-Path $VolumesDir) {
    Get-ChildItem -Path $VolumesDir | ForEach-Object {
        $name = $_.BaseName
        if (-not $VolumeTargets.ContainsKey($name)) {
            # Not part of the stack; ignore.
            return
        }
        $dest = Join-Path $TargetRoot $VolumeTargets[$name]
        $parent = Split-Path -Parent $dest
        New-Item -ItemType Directory -Force -Path $parent | Out-Null
        if (Test-Path $dest) { Remove-Item -Recurse -Force $dest }
        if ($_.PSIsContainer) {
            Copy-Item -Recurse -Path $_.FullName -Destination $dest
        } else {
            $scratch = Join-Path $TargetRoot (".import." + [System.IO.Path]::GetRandomFileName())
            Expand-Archive -Path $_.FullName -DestinationPath $scratch
            $contents = @(Get-ChildItem -Path $scratch)
            if ($contents.Count -eq 1 -and $contents[0].PSIsContainer) {
                # Strip the nesting folder the archiver introduced.
                Move-Item -Path $contents[0].FullName -Destination $dest
            } else {
                New-Item -ItemType Directory -Force -Path $dest | Out-Null
                Get-ChildItem -Path $scratch | Move-Item -Destination $dest
            }
            Remove-Item -Recurse -Force $scratch
        }
        Write-Host "OK $name -> $($VolumeTargets[$name])"
    }
}

Write-Host "STEP copying config files"
$ConfigDir = Join-Path $ScriptDir "config"
if (Test-Path $ConfigDir) {
    Copy-Item -Path (Join-Path $ConfigDir "*") -Destination $TargetRoot -Force
}

Write-Host "STEP starting stack"
docker compose up -d
if ($LASTEXITCODE -ne 0) { exit 1 }
Write-Host "OK import complete"
`

var (
	linuxTmpl   = template.Must(template.New("import_linux.sh").Parse(linuxScript))
	windowsTmpl = template.Must(template.New("import_windows.ps1").Parse(windowsScript))
)

// WriteScripts renders both import scripts into the backup directory. The
// scripts are self-contained: backup-side paths derive from the script
// location, target-side paths from the directory the operator runs them in.
func WriteScripts(backupDir string, stack config.Stack) error {
	data := scriptData{}
	for _, v := range stack.Volumes {
		data.Volumes = append(data.Volumes, scriptVolume{
			Archive: v.Archive,
			Target:  path.Clean(v.Source),
		})
	}

	if err := renderScript(linuxTmpl, filepath.Join(backupDir, "import_linux.sh"), 0700, data); err != nil {
		return err
	}
	return renderScript(windowsTmpl, filepath.Join(backupDir, "import_windows.ps1"), 0600, data)
}

func renderScript(tmpl *template.Template, path string, perm os.FileMode, data scriptData) error {
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm) // #nosec G304 - controlled backup output path
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}

	if err := tmpl.Execute(out, data); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to render %s: %w", filepath.Base(path), err)
	}
	return out.Close()
}
