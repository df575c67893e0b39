package services

import (
	"fmt"

	"activity/config"
	"activity/supabase"
)

var Supa *supabase.Client

// InitSupabase builds the shared BaaS client from AppConfig.
func InitSupabase() error {
	if config.AppConfig.Supabase.ProjectURL == "" {
		return fmt.Errorf("supabase project_url is not configured")
	}

	client, err := supabase.New(supabase.Config{
		ProjectURL: config.AppConfig.Supabase.ProjectURL,
		AnonKey:    config.AppConfig.Supabase.AnonKey,
		Timeout:    config.AppConfig.Supabase.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to init supabase client: %w", err)
	}

	Supa = client
	return nil
}
