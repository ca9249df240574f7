// Package pipeline derives the step list of an app-builder workflow and
// computes minimal step deltas.
package pipeline

import (
	"fmt"

	"apk-builder-be/internal/entity"
)

func waiting(name, title, description string) entity.Step {
	return entity.Step{
		Name:        name,
		Title:       title,
		Description: description,
		Status:      entity.StepStatusWaiting,
		Progress:    0,
	}
}

// BuildInitialState returns the canonical pipeline for a source descriptor.
// Plain APKs are only uploaded and verified; bundles additionally go through
// unzip, decompile and compile.
func BuildInitialState(source entity.SourceDescriptor) (*entity.PipelineState, error) {
	if source.Type != entity.SourceUploadApk || source.UploadApk == nil {
		return nil, fmt.Errorf("unsupported apk source: %s", source.Type)
	}

	ft := source.FileType()
	switch {
	case ft == entity.FileTypeApk:
		return entity.NewPipelineState("APK processing", []entity.Step{
			waiting(entity.StepUpload, "Upload The App", "Upload the .apk file to the server"),
			waiting(entity.StepVerify, "Verify The App", "Verify the integrity of the uploaded .apk file"),
		})
	case ft.NeedsUnpacking():
		return entity.NewPipelineState(fmt.Sprintf("%s processing", ft), []entity.Step{
			waiting(entity.StepUpload, "Upload the app", fmt.Sprintf("Upload the .%s file to the server", ft)),
			waiting(entity.StepVerify, "Verify The App", fmt.Sprintf("Verify the integrity of the uploaded .%s file", ft)),
			waiting(entity.StepUnzip, fmt.Sprintf("Unzip the .%s file", ft), fmt.Sprintf("Unzip .%s contents", ft)),
			waiting(entity.StepDecompile, "Decompile The App", fmt.Sprintf("Decompile the .%s file", ft)),
			waiting(entity.StepCompile, "Compile to .apk", "Compile the decompiled app into a single APK file"),
		})
	default:
		return nil, fmt.Errorf("unsupported file type: %s", ft)
	}
}
