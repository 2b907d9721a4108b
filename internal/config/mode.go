package config

import "os"

// IsCI detects if running in a CI/CD environment. CI runs never consult
// the OS keychain and never prompt.
func IsCI() bool {
	// Common CI environment variables
	ciEnvVars := []string{
		"CI",                     // Generic CI indicator
		"CONTINUOUS_INTEGRATION", // Generic CI indicator
		"GITHUB_ACTIONS",         // GitHub Actions
		"GITLAB_CI",              // GitLab CI
		"CIRCLECI",               // CircleCI
		"JENKINS_URL",            // Jenkins
		"BUILDKITE",              // Buildkite
		"TF_BUILD",               // Azure Pipelines
	}

	for _, envVar := range ciEnvVars {
		if os.Getenv(envVar) != "" {
			return true
		}
	}

	return false
}
