package cmd

import (
	"bytes"
	"testing"
)

func TestRootCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{
			name:    "version flag",
			args:    []string{"--version"},
			wantErr: false,
		},
		{
			name:    "help flag",
			args:    []string{"--help"},
			wantErr: false,
		},
		{
			name:    "unknown command",
			args:    []string{"nonexistent-command"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rootCmd.SetArgs(tt.args)
			var stdout, stderr bytes.Buffer
			rootCmd.SetOut(&stdout)
			rootCmd.SetErr(&stderr)

			err := rootCmd.Execute()
			if (err != nil) != tt.wantErr {
				t.Errorf("rootCmd.Execute() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCommandArgValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{
			name: "send requires a message",
			args: []string{"send"},
		},
		{
			name: "export requires a chat id",
			args: []string{"export"},
		},
		{
			name: "edit requires chat id and text",
			args: []string{"edit", "some-chat"},
		},
		{
			name: "regenerate requires a chat id",
			args: []string{"regenerate"},
		},
		{
			name: "delete requires a chat id",
			args: []string{"delete"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rootCmd.SetArgs(tt.args)
			rootCmd.SetOut(&bytes.Buffer{})
			rootCmd.SetErr(&bytes.Buffer{})

			if err := rootCmd.Execute(); err == nil {
				t.Error("Execute() should return error when required args are missing")
			}
		})
	}
}
