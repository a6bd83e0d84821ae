package api

func (s *Server) setupRoutes() {
	s.router.GET("/", s.statusHandler.UnitInfo)
	s.router.GET("/health", s.statusHandler.HealthCheck)
	s.router.GET("/status", s.statusHandler.Status)
	s.router.GET("/config", s.statusHandler.Config)

	s.router.POST("/arm", s.controlHandler.Arm)
	s.router.POST("/disarm", s.controlHandler.Disarm)

	safety := s.router.Group("/safety")
	{
		safety.POST("/reset", s.controlHandler.ResetLock)
	}

	calibration := s.router.Group("/calibration")
	{
		calibration.GET("", s.controlHandler.GetCalibration)
		calibration.POST("", s.controlHandler.Calibrate)
	}

	s.router.GET("/events", s.eventsHandler.Recent)
	s.router.GET("/stream", s.streamHandler.MJPEG)
}
