package api

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", s.handleGetHealth)

		meta := v1.Group("/meta")
		{
			meta.GET("", s.handleListMeta)
			meta.GET("/:symbol", s.handleGetMeta)
		}

		opt := v1.Group("/optimizer")
		{
			opt.GET("/history", s.handleListHistory)
			opt.GET("/best/:symbol", s.handleGetBest)
		}

		v1.GET("/runs/:symbol", s.handleListRuns)

		jobs := v1.Group("/jobs")
		{
			jobs.GET("", s.handleListJobs)
			jobs.GET("/:name", s.handleGetJob)
			jobs.DELETE("/:name", s.handleCancelJob)
		}
	}

	s.router.GET("/", s.handleRoot)
}
