// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cloud defines the data structures for application configuration,
// loaded from TOML files, and the clients used to reach Google Cloud.
//
// This file centralizes every configurable parameter of an experiment run.
// NewConfig returns the reference parameters, so a run with no configuration
// files at all reproduces the reference experiment.
//
// Structs:
//   - Experiment: Input clip, outputs and clip-level parameters.
//   - Encoder, Channel, Decoder, Evaluator: Per-stage settings.
//   - Storage, BigQueryDataSource, Ledger: Where results are kept.
//   - VertexAiLLMModel, TopicSubscription: Cloud service settings.
//   - Config: The top-level struct that aggregates all other configuration structs.
package cloud

import "google.golang.org/genai"

// DefaultSafetySettings leave captioning unfiltered; the inputs are the
// operator's own clips.
var DefaultSafetySettings = []*genai.SafetySetting{
	{
		Category:  genai.HarmCategoryDangerousContent,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategoryHarassment,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategoryHateSpeech,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategorySexuallyExplicit,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
}

// Backend names accepted by the encoder and decoder sections.
const (
	CaptionerVertex   = "vertex"   // Gemini through Vertex AI
	CaptionerAIStudio = "aistudio" // Gemini through an AI Studio API key
	CaptionerStatic   = "static"   // fixed caption from configuration
	GeneratorImagen   = "imagen"   // Imagen canny-controlled editing
	GeneratorEdges    = "edges"    // renders the structure map itself
)

// Experiment holds clip-level parameters and output locations.
type Experiment struct {
	Input           string  `toml:"input"`             // Local path or gs://bucket/object.
	Output          string  `toml:"output"`            // Reconstructed video.
	GroundTruthClip string  `toml:"ground_truth_clip"` // Truncated source written for evaluation; removed after the run.
	Report          string  `toml:"report"`            // YAML run report; empty disables.
	MaxFrames       int     `toml:"max_frames"`        // Frames read from the input.
	FrameRate       float64 `toml:"frame_rate"`        // Rate for bitrate accounting and output encoding; 0 uses the source rate.
}

type Encoder struct {
	Captioner      string  `toml:"captioner"`
	Model          string  `toml:"model"` // key into agent_models
	StaticCaption  string  `toml:"static_caption"`
	CaptionPrompt  string  `toml:"caption_prompt"`
	APIKeyEnv      string  `toml:"api_key_env"` // env var holding the AI Studio key
	QualitySuffix  string  `toml:"quality_suffix"`
	CannyLow       float64 `toml:"canny_low"`
	CannyHigh      float64 `toml:"canny_high"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
}

type Channel struct {
	TargetWidth    int  `toml:"target_width"`
	LossyStructure bool `toml:"lossy_structure"`
}

type Decoder struct {
	Generator         string  `toml:"generator"`
	Model             string  `toml:"model"`
	KeyframeInterval  int     `toml:"keyframe_interval"`
	Seed              int64   `toml:"seed"`
	Steps             int     `toml:"steps"`
	GuidanceScale     float64 `toml:"guidance_scale"`
	ConditioningScale float64 `toml:"conditioning_scale"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	RateLimit         int     `toml:"rate_limit"` // requests per minute
}

type Evaluator struct {
	Ladder  []int  `toml:"ladder"`
	Chart   string `toml:"chart"`
	WorkDir string `toml:"work_dir"`
}

// Storage names the buckets used for inputs and artifacts.
type Storage struct {
	InputBucket       string `toml:"input_bucket"`
	OutputBucket      string `toml:"output_bucket"`
	OutputPrefix      string `toml:"output_prefix"`
	GCSFuseMountPoint string `toml:"gcs_fuse_mount_point"`
}

// BigQueryDataSource represents the configuration for a BigQuery data source.
type BigQueryDataSource struct {
	DatasetName     string `toml:"dataset"`
	ExperimentTable string `toml:"experiment_table"`
}

// Ledger is the local sqlite run history; an empty path disables it.
type Ledger struct {
	Path string `toml:"path"`
}

// VertexAiLLMModel represents the configuration for a Vertex AI large language model (LLM).
type VertexAiLLMModel struct {
	Model              string  `toml:"model"`
	SystemInstructions string  `toml:"system_instructions"`
	Temperature        float32 `toml:"temperature"`
	TopP               float32 `toml:"top_p"`
	TopK               float32 `toml:"top_k"`
	MaxTokens          int32   `toml:"max_tokens"`
	OutputFormat       string  `toml:"output_format"`
	RateLimit          int     `toml:"rate_limit"` // requests per minute
}

// TopicSubscription represents the configuration for a Pub/Sub topic subscription.
type TopicSubscription struct {
	Name             string `toml:"name"`
	DeadLetterTopic  string `toml:"dead_letter_topic"`
	TimeoutInSeconds int    `toml:"timeout_in_seconds"`
}

// Config represents the overall configuration for the application, loaded from TOML files.
type Config struct {
	Application struct {
		Name                      string `toml:"name"`
		GoogleProjectId           string `toml:"google_project_id"`
		GoogleLocation            string `toml:"location"`
		SignerServiceAccountEmail string `toml:"signer_service_account_email"`
		FFmpegPath                string `toml:"ffmpeg_path"`
		FFprobePath               string `toml:"ffprobe_path"`
		LogFile                   string `toml:"log_file"`
		ListenAddress             string `toml:"listen_address"`
	} `toml:"application"`
	Experiment         Experiment                   `toml:"experiment"`
	Encoder            Encoder                      `toml:"encoder"`
	Channel            Channel                      `toml:"channel"`
	Decoder            Decoder                      `toml:"decoder"`
	Evaluator          Evaluator                    `toml:"evaluator"`
	Storage            Storage                      `toml:"storage"`
	BigQueryDataSource BigQueryDataSource           `toml:"big_query_data_source"`
	Ledger             Ledger                       `toml:"ledger"`
	TopicSubscriptions map[string]TopicSubscription `toml:"topic_subscriptions"` // keyed by logical name, e.g. "UploadTopic"
	AgentModels        map[string]VertexAiLLMModel  `toml:"agent_models"`        // keyed by logical name, e.g. "captioner"
}

// NewConfig returns a Config holding the reference experiment parameters.
// TOML files loaded on top only need to name what they change.
func NewConfig() *Config {
	c := &Config{
		TopicSubscriptions: make(map[string]TopicSubscription),
		AgentModels:        make(map[string]VertexAiLLMModel),
	}
	c.Application.Name = "gencomm-video"
	c.Application.GoogleLocation = "us-central1"
	c.Application.FFmpegPath = "ffmpeg"
	c.Application.FFprobePath = "ffprobe"
	c.Application.LogFile = "app.log"
	c.Application.ListenAddress = ":8080"

	c.Experiment = Experiment{
		Input:           "test.mp4",
		Output:          "output_generate.mp4",
		GroundTruthClip: "temp_gt_short.mp4",
		Report:          "run_report.yaml",
		MaxFrames:       30,
	}
	c.Encoder = Encoder{
		Captioner:      CaptionerVertex,
		Model:          "captioner",
		CaptionPrompt:  "Describe the main subject and setting of this image in one short sentence, as an image caption.",
		APIKeyEnv:      "GEMINI_API_KEY",
		QualitySuffix:  ", masterpiece, best quality, 4k, realistic, cinematic lighting",
		CannyLow:       50,
		CannyHigh:      150,
		TimeoutSeconds: 60,
	}
	c.Channel = Channel{TargetWidth: 192}
	c.Decoder = Decoder{
		Generator:         GeneratorImagen,
		Model:             "imagen-3.0-capability-001",
		KeyframeInterval:  4,
		Seed:              42,
		Steps:             25,
		GuidanceScale:     7.5,
		ConditioningScale: 0.5,
		TimeoutSeconds:    120,
		RateLimit:         20,
	}
	c.Evaluator = Evaluator{
		Ladder: []int{50, 100, 150, 200, 300, 400},
		Chart:  "result_plot.png",
	}
	c.AgentModels["captioner"] = VertexAiLLMModel{
		Model:       "gemini-2.0-flash",
		Temperature: 0.2,
		TopP:        0.9,
		TopK:        32,
		MaxTokens:   128,
		RateLimit:   60,
	}
	return c
}
