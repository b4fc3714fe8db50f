package httpserver

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/metrics", s.metricsEndpoint)

	api := s.echo.Group("/api/v1")

	verifications := api.Group("/verifications")
	verifications.POST("", s.startVerification)
	verifications.GET("/:handle", s.getVerification)
	verifications.POST("/:handle/resend", s.resendVerification)
	verifications.POST("/:handle/verify", s.verifyCode)
	verifications.POST("/:handle/complete", s.completeVerification)
}
