package glassy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"glassy-go/internal/model"
)

// defaultDebugURL is stored with every new server so the override only needs toggling.
const defaultDebugURL = "http://localhost:5000"

// AddServer registers a server and makes it the active one.
// localDir must be absolute; every project of the server lives beneath it.
func (s *Service) AddServer(url string, name string, localDir string) error {
	if url == "" {
		return fmt.Errorf("server url is required")
	}
	if !filepath.IsAbs(localDir) {
		return fmt.Errorf("local directory must be absolute: %s", localDir)
	}

	existing, err := s.database.FindServer(url)
	if err != nil {
		return fmt.Errorf("checking for existing server: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("server already registered: %s", url)
	}

	server := &model.Server{
		URL:      url,
		Name:     name,
		LocalDir: localDir,
		Active:   true,
		DebugURL: defaultDebugURL,
	}
	if err := s.database.AddServer(server); err != nil {
		return fmt.Errorf("adding server: %w", err)
	}

	s.logger.Info("server added", "url", url, "local_dir", localDir)
	return nil
}

// UseServer makes an already registered server the active one.
func (s *Service) UseServer(url string) error {
	server, err := s.database.FindServer(url)
	if err != nil {
		return fmt.Errorf("finding server: %w", err)
	}
	if server == nil {
		return fmt.Errorf("server not registered: %s", url)
	}
	if err := s.database.SetActiveServer(url); err != nil {
		return fmt.Errorf("activating server: %w", err)
	}
	s.logger.Info("server activated", "url", url)
	return nil
}

// Servers returns every registered server.
func (s *Service) Servers() ([]*model.Server, error) {
	servers, err := s.database.ListServers()
	if err != nil {
		return nil, fmt.Errorf("listing servers: %w", err)
	}
	return servers, nil
}

// ActiveServer returns the active server or ErrNoActiveServer.
func (s *Service) ActiveServer() (*model.Server, error) {
	server, err := s.database.ActiveServer()
	if err != nil {
		return nil, fmt.Errorf("finding active server: %w", err)
	}
	if server == nil {
		return nil, ErrNoActiveServer
	}
	return server, nil
}

// CurrentServerURL returns the URL network calls of the active server go to,
// honoring an active debug override.
func (s *Service) CurrentServerURL() (string, error) {
	server, err := s.ActiveServer()
	if err != nil {
		return "", err
	}
	return server.EndpointURL(), nil
}

// SetCacheSetting toggles chunk retention for the active server.
func (s *Service) SetCacheSetting(enabled bool) error {
	server, err := s.ActiveServer()
	if err != nil {
		return err
	}
	if err := s.database.SetCacheSetting(server.URL, enabled); err != nil {
		return fmt.Errorf("updating cache setting: %w", err)
	}
	return nil
}

// SetDebugOverride points network calls of the active server at debugURL while active.
func (s *Service) SetDebugOverride(debugURL string, active bool) error {
	server, err := s.ActiveServer()
	if err != nil {
		return err
	}
	if debugURL == "" {
		debugURL = server.DebugURL
	}
	if err := s.database.SetDebugOverride(server.URL, debugURL, active); err != nil {
		return fmt.Errorf("updating debug override: %w", err)
	}
	return nil
}

// AddProject records a project of the active server. Joining a project that
// is already known only refreshes its remote title.
func (s *Service) AddProject(pid int64, title string, teamName string, commitID int64) error {
	server, err := s.ActiveServer()
	if err != nil {
		return err
	}
	if title == "" || teamName == "" {
		return fmt.Errorf("project title and team name are required")
	}

	project := &model.Project{
		PID:          pid,
		ServerURL:    server.URL,
		Title:        title,
		TeamName:     teamName,
		BaseCommitID: commitID,
		RemoteTitle:  title,
	}
	if err := s.database.UpsertProject(project); err != nil {
		return fmt.Errorf("adding project: %w", err)
	}
	return nil
}

// Projects returns the projects of the active server.
func (s *Service) Projects() ([]*model.Project, error) {
	server, err := s.ActiveServer()
	if err != nil {
		return nil, err
	}
	projects, err := s.database.ListProjects(server.URL)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	return projects, nil
}

// ProjectDir returns local_dir/team_name/title for a project of the active server.
func (s *Service) ProjectDir(pid int64) (string, error) {
	server, project, err := s.activeProject(pid)
	if err != nil {
		return "", err
	}
	return projectDir(server, project), nil
}

// ForgetProject removes a project, its ledger records and its snapshot.
// Files on disk are left alone.
func (s *Service) ForgetProject(pid int64) error {
	server, _, err := s.activeProject(pid)
	if err != nil {
		return err
	}

	if err := s.database.ClearFiles(server.URL, pid); err != nil {
		return fmt.Errorf("clearing ledger: %w", err)
	}
	if err := s.database.DeleteProject(server.URL, pid); err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}
	if err := os.Remove(s.snapshotPath(server.URL, pid)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing snapshot: %w", err)
	}

	s.logger.Info("project forgotten", "project", pid)
	return nil
}

// AcceptProjectRename moves the project directory to the remote title and
// records the new title. It is a no-op if the titles already match.
func (s *Service) AcceptProjectRename(pid int64) error {
	server, project, err := s.activeProject(pid)
	if err != nil {
		return err
	}
	if project.RemoteTitle == "" || project.RemoteTitle == project.Title {
		return nil
	}

	oldDir := projectDir(server, project)
	renamed := *project
	renamed.Title = project.RemoteTitle
	newDir := projectDir(server, &renamed)

	if _, err := os.Stat(newDir); err == nil {
		return fmt.Errorf("destination already exists: %s", newDir)
	}
	if _, err := os.Stat(oldDir); err == nil {
		if err := os.Rename(oldDir, newDir); err != nil {
			return fmt.Errorf("moving project directory: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking project directory: %w", err)
	}

	if err := s.database.AcceptProjectTitle(server.URL, pid); err != nil {
		return fmt.Errorf("updating project title: %w", err)
	}

	s.logger.Info("project renamed", "project", pid, "from", project.Title, "to", renamed.Title)
	return nil
}

// activeProject resolves the active server and one of its projects.
func (s *Service) activeProject(pid int64) (*model.Server, *model.Project, error) {
	server, err := s.ActiveServer()
	if err != nil {
		return nil, nil, err
	}
	project, err := s.database.FindProject(server.URL, pid)
	if err != nil {
		return nil, nil, fmt.Errorf("finding project: %w", err)
	}
	if project == nil {
		return nil, nil, fmt.Errorf("project %d: %w", pid, ErrUnknownProject)
	}
	return server, project, nil
}

func projectDir(server *model.Server, project *model.Project) string {
	return filepath.Join(server.LocalDir, project.TeamName, project.Title)
}
